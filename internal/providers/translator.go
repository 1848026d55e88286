// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package providers

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/avast/retry-go/v4"
	"google.golang.org/genai"
)

const translatorSystem = `Translate the given text to English. Respond with the
translation only: no quotes, no commentary, no alternatives.`

// translatorMemoLimit caps the per-process translation memo. Prompts repeat
// heavily within one book, rarely across books, so a small cap suffices.
const translatorMemoLimit = 1024

// GeminiTranslator renders description content into English prompt text.
//
// Translations are memoized per process. Input that is already dominated by
// ASCII letters is assumed English and passed through without a model call.
type GeminiTranslator struct {
	invoker  textInvoker
	settings Settings

	mu   sync.RWMutex
	memo map[string]string
}

// NewTranslator constructs the translator over the shared genai client.
func NewTranslator(client *genai.Client, settings Settings) *GeminiTranslator {
	return &GeminiTranslator{
		invoker:  &genaiText{client: client, model: settings.TextModel},
		settings: settings,
		memo:     make(map[string]string),
	}
}

// TranslateToEnglish returns the English rendition of text.
func (translator *GeminiTranslator) TranslateToEnglish(ctx context.Context, text string) (string, error) {
	if asciiDominant(text) {
		return text, nil
	}

	translator.mu.RLock()
	cached, ok := translator.memo[text]
	translator.mu.RUnlock()
	if ok {
		return cached, nil
	}

	translated, err := retry.DoWithData(
		func() (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, translator.settings.CallTimeout)
			defer cancel()
			return translator.invoker.invoke(callCtx, translatorSystem, text, false)
		},
		retry.RetryIf(isTransient),
		retry.Attempts(translator.settings.RetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", classify("extractor", err)
	}
	translated = strings.TrimSpace(translated)

	translator.mu.Lock()
	if len(translator.memo) >= translatorMemoLimit {
		// Evict one arbitrary entry to stay under the cap.
		for key := range translator.memo {
			delete(translator.memo, key)
			break
		}
	}
	translator.memo[text] = translated
	translator.mu.Unlock()

	return translated, nil
}

// asciiDominant reports whether at least 70% of the letters in text are
// ASCII, which marks it as already-English for prompt purposes.
func asciiDominant(text string) bool {
	letters, ascii := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r < 128 {
			ascii++
		}
	}
	if letters == 0 {
		return true
	}
	return ascii*10 >= letters*7
}
