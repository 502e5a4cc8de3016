// Package translation holds the translation collaborators: Groq chat
// completions, Gemini and a mock for local development.
package translation

import "fmt"

// languageNames maps codes to the names used in the interpreter prompt
var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"ja": "Japanese",
}

// LanguageName returns the prompt name for a language code, English when
// the code is unknown
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "English"
}

// SystemPrompt is the interpreter instruction for a target language
func SystemPrompt(targetLanguage string) string {
	return fmt.Sprintf("You are a professional simultaneous interpreter. "+
		"Translate the following text to %s. "+
		"Do not explain. Output ONLY the translation. "+
		"Keep the tone conversational but professional.", LanguageName(targetLanguage))
}
