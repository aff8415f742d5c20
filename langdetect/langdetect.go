// Package langdetect tags transcript text with its language.
package langdetect

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
)

// minRunes is the shortest text worth classifying.
const minRunes = 3

// Detector restricts lingua to a configured set of languages.
type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector for BCP 47 tags such as "es" or "pt-BR". At least
// two distinct languages are required.
func New(tags []string) (*Detector, error) {
	langs, err := resolve(tags)
	if err != nil {
		return nil, err
	}
	if len(langs) < 2 {
		return nil, fmt.Errorf("langdetect: need at least two languages, got %d", len(langs))
	}

	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		WithMinimumRelativeDistance(0.1).
		Build()
	return &Detector{detector: d}, nil
}

// DetectLanguage returns the lower-case ISO 639-1 code of text.
func (d *Detector) DetectLanguage(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minRunes {
		return "", false
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

func resolve(tags []string) ([]lingua.Language, error) {
	byCode := make(map[string]lingua.Language)
	for _, l := range lingua.AllLanguages() {
		byCode[strings.ToLower(l.IsoCode639_1().String())] = l
	}

	seen := make(map[lingua.Language]bool)
	var out []lingua.Language
	for _, tag := range tags {
		t, err := language.Parse(tag)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", tag, err)
		}
		base, _ := t.Base()
		l, ok := byCode[base.String()]
		if !ok {
			return nil, fmt.Errorf("langdetect: unsupported language %q", tag)
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out, nil
}
