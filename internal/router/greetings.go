package router

import (
	"hash/fnv"
	"strings"
)

// greetingsByLocale holds the canned replies per language tag. The "en"
// entry doubles as the fallback for unknown locales.
var greetingsByLocale = map[string][]string{
	"en": {
		"Hello! I'm your tutor. What would you like to learn today?",
		"Hi there! Ready when you are. What shall we study today?",
	},
	"hi": {
		"नमस्ते! मैं आपका ट्यूटर हूँ। आज आप क्या सीखना चाहेंगे?",
		"नमस्कार! मैं तैयार हूँ। आज हम क्या पढ़ें?",
	},
	"es": {
		"¡Hola! Soy tu tutor. ¿Qué te gustaría aprender hoy?",
		"¡Buenas! Estoy listo. ¿Qué estudiamos hoy?",
	},
	"fr": {
		"Bonjour ! Je suis votre tuteur. Qu'aimeriez-vous apprendre aujourd'hui ?",
		"Salut ! Je suis prêt. Qu'étudions-nous aujourd'hui ?",
	},
	"de": {
		"Hallo! Ich bin dein Tutor. Was möchtest du heute lernen?",
		"Hi! Ich bin bereit. Was lernen wir heute?",
	},
}

// CannedGreeting returns a locale-specific greeting reply without invoking
// the LLM. The query picks one of the locale's variants deterministically:
// repeating the same greeting gets the same reply while different greetings
// vary. language is a BCP 47 tag; only the primary subtag is considered, so
// "en-IN" and "en-US" both resolve to English. Unknown languages fall back
// to English.
func CannedGreeting(query, language string) string {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	variants, ok := greetingsByLocale[lang]
	if !ok {
		variants = greetingsByLocale["en"]
	}

	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	return variants[int(h.Sum32())%len(variants)]
}
