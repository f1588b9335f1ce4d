package chat

import (
	"strings"
	"sync"

	"github.com/abadojack/whatlanggo"
)

// DefaultLanguageInstruction is used when the answer language is unknown.
const DefaultLanguageInstruction = "Answer strictly in the same language as the context."

var languageInstructions = map[string]string{
	"en": "Answer in English only.",
	"hi": "केवल हिंदी में उत्तर दें।",
	"fr": "Répondez uniquement en français.",
	"ta": "தமிழில் மட்டும் பதிலளிக்கவும்.",
	"es": "Responde únicamente en español.",
	"de": "Antworte ausschließlich auf Deutsch.",
}

// LanguageInstruction returns the answer-language instruction for a
// language given as an ISO 639-1 or 639-3 code or an English name. The six
// primary languages get a native instruction; other languages known to
// whatlanggo get an English one naming the language. Anything else gets
// DefaultLanguageInstruction.
func LanguageInstruction(language string) string {
	key := strings.ToLower(strings.TrimSpace(language))
	if s, ok := languageInstructions[key]; ok {
		return s
	}
	name, ok := languageNames()[key]
	if !ok {
		return DefaultLanguageInstruction
	}
	if code, ok := nativeByName[name]; ok {
		return languageInstructions[code]
	}
	return "Answer only in " + name + "."
}

// nativeByName maps the whatlanggo names of the primary languages back to
// their codes so "french" or "fra" still get the native instruction.
var nativeByName = map[string]string{
	"English": "en",
	"Hindi":   "hi",
	"French":  "fr",
	"Tamil":   "ta",
	"Spanish": "es",
	"German":  "de",
}

// languageNames indexes every whatlanggo language by lower-cased ISO 639-1
// code, ISO 639-3 code and name.
var languageNames = sync.OnceValue(func() map[string]string {
	names := make(map[string]string, 3*len(whatlanggo.Langs))
	for lang, name := range whatlanggo.Langs {
		for _, key := range []string{lang.Iso6391(), lang.Iso6393(), name} {
			if key != "" {
				names[strings.ToLower(key)] = name
			}
		}
	}
	return names
})

// DetectLanguage returns the ISO 639-1 code of text, or "" when detection
// is not reliable.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
