package auth

import "strings"

// FeedbackKey identifies one unmet password rule or detected weakness
type FeedbackKey string

const (
	FeedbackMinLength FeedbackKey = "min_length"
	FeedbackLowercase FeedbackKey = "lowercase"
	FeedbackUppercase FeedbackKey = "uppercase"
	FeedbackDigit     FeedbackKey = "digit"
	FeedbackSpecial   FeedbackKey = "special"
	FeedbackCommon    FeedbackKey = "common"
	FeedbackRepeated  FeedbackKey = "repeated"
	FeedbackSequence  FeedbackKey = "sequence"
)

// DefaultLocale is used when a requested locale has no catalog
const DefaultLocale = "en"

var feedbackCatalog = map[string]map[FeedbackKey]string{
	"en": {
		FeedbackMinLength: "Use at least 8 characters",
		FeedbackLowercase: "Add lowercase letters",
		FeedbackUppercase: "Add uppercase letters",
		FeedbackDigit:     "Add numbers",
		FeedbackSpecial:   "Add special characters",
		FeedbackCommon:    "Password is too common or easily guessable",
		FeedbackRepeated:  "Avoid repeated characters",
		FeedbackSequence:  "Avoid consecutive sequences (abc, 123)",
	},
	"fr": {
		FeedbackMinLength: "Utilisez au moins 8 caractères",
		FeedbackLowercase: "Ajoutez des lettres minuscules",
		FeedbackUppercase: "Ajoutez des lettres majuscules",
		FeedbackDigit:     "Ajoutez des chiffres",
		FeedbackSpecial:   "Ajoutez des caractères spéciaux",
		FeedbackCommon:    "Mot de passe trop courant ou facile à deviner",
		FeedbackRepeated:  "Évitez les caractères répétés",
		FeedbackSequence:  "Évitez les suites consécutives (abc, 123)",
	},
}

// NormalizeLocale maps "fr-FR", "FR" and similar tags onto a catalog key
func NormalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_,;"); i > 0 {
		locale = locale[:i]
	}
	if _, ok := feedbackCatalog[locale]; ok {
		return locale
	}
	return DefaultLocale
}

// FeedbackMessage returns the localized text for key
func FeedbackMessage(locale string, key FeedbackKey) string {
	return feedbackCatalog[NormalizeLocale(locale)][key]
}
