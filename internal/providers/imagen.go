// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package providers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // width/height probing of generated assets
	_ "image/png"

	"github.com/avast/retry-go/v4"
	"google.golang.org/genai"

	"github.com/fablio/fablio/internal/imagegen"
)

// imageInvoker is the seam between the adapter logic and the genai transport.
type imageInvoker interface {
	invoke(ctx context.Context, prompt string) (*imagegen.GeneratedAsset, error)
}

// genaiImage is the production invoker over the shared client.
type genaiImage struct {
	client   *genai.Client
	settings Settings
}

func (g *genaiImage) invoke(ctx context.Context, prompt string) (*imagegen.GeneratedAsset, error) {
	response, err := g.client.Models.GenerateImages(ctx, g.settings.ImageModel, prompt,
		&genai.GenerateImagesConfig{
			NumberOfImages:    1,
			AspectRatio:       g.settings.AspectRatio,
			SafetyFilterLevel: safetyLevel(g.settings.SafetyLevel),
		})
	if err != nil {
		return nil, err
	}

	if len(response.GeneratedImages) == 0 || response.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("imagen returned no image")
	}

	generated := response.GeneratedImages[0].Image
	asset := &imagegen.GeneratedAsset{
		ImageBytes:  generated.ImageBytes,
		ContentType: generated.MIMEType,
	}
	if asset.ContentType == "" {
		asset.ContentType = "image/png"
	}

	// Dimensions are not part of the API response; probe the bytes.
	if config, _, err := image.DecodeConfig(bytes.NewReader(generated.ImageBytes)); err == nil {
		asset.Width = config.Width
		asset.Height = config.Height
	}

	return asset, nil
}

// safetyLevel maps the configured string onto the API enum, defaulting to
// the medium filter.
func safetyLevel(raw string) genai.SafetyFilterLevel {
	switch raw {
	case "block_low_and_above":
		return genai.SafetyFilterLevelBlockLowAndAbove
	case "block_only_high":
		return genai.SafetyFilterLevelBlockOnlyHigh
	case "block_none":
		return genai.SafetyFilterLevelBlockNone
	default:
		return genai.SafetyFilterLevelBlockMediumAndAbove
	}
}

// ImagenGenerator implements the illustration generator over Imagen.
type ImagenGenerator struct {
	invoker  imageInvoker
	settings Settings
}

// NewGenerator constructs the generator over the shared genai client.
func NewGenerator(client *genai.Client, settings Settings) *ImagenGenerator {
	return &ImagenGenerator{
		invoker:  &genaiImage{client: client, settings: settings},
		settings: settings,
	}
}

// Generate produces one illustration for the prompt, retrying transient
// upstream failures with a fresh deadline per attempt.
func (generator *ImagenGenerator) Generate(ctx context.Context, prompt string) (*imagegen.GeneratedAsset, error) {
	asset, err := retry.DoWithData(
		func() (*imagegen.GeneratedAsset, error) {
			callCtx, cancel := context.WithTimeout(ctx, generator.settings.ImageTimeout)
			defer cancel()
			return generator.invoker.invoke(callCtx, prompt)
		},
		retry.RetryIf(isTransient),
		retry.Attempts(generator.settings.RetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, classify("generator", err)
	}
	return asset, nil
}
