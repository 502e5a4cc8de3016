package repositories

import "context"

// Translator abstracts text translation services
type Translator interface {
	// Name returns the provider identifier
	Name() string
	// Translate returns text rendered in the target language
	Translate(ctx context.Context, request TranslationRequest) (string, error)
}

// TranslationRequest is one segment of text to translate
type TranslationRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}
