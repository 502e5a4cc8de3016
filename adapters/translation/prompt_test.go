package translation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanguageName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"en", "English"},
		{"es", "Spanish"},
		{"fr", "French"},
		{"de", "German"},
		{"pt", "Portuguese"},
		{"ja", "Japanese"},
		{"xx", "English"},
		{"", "English"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, LanguageName(tt.code))
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt("fr")
	assert.Contains(t, prompt, "Translate the following text to French.")
	assert.Contains(t, prompt, "Output ONLY the translation.")
}
