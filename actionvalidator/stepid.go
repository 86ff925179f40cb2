package actionvalidator

import (
	"strings"
	"unicode"
)

// NormalizeStepID lower-cases id and joins its words with single hyphens.
func NormalizeStepID(id string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.TrimSpace(id) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if r > unicode.MaxASCII {
				continue
			}
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingHyphen = true
		}
	}
	return b.String()
}

// StepIDFromText derives a step id from free text, keeping at most four words.
func StepIDFromText(text string) string {
	parts := strings.Split(NormalizeStepID(text), "-")
	if len(parts) > 4 {
		parts = parts[:4]
	}
	id := strings.Join(parts, "-")
	if len(id) < 3 {
		return "respond-to-user"
	}
	return id
}
