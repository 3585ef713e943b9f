package prompt

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLanguage is used when no preferred language is known.
const DefaultLanguage = "en"

// Renderer fills the placeholders of system prompts:
//
//	{{now_date}}                 2024-05-01 (UTC)
//	{{now_datetime}}             2024-05-01T13:45:00.000Z
//	{{preferred_language_code}}  de
//	{{preferred_language_en}}    German
type Renderer struct {
	Now func() time.Time
}

// NewRenderer returns a renderer using the wall clock.
func NewRenderer() *Renderer {
	return &Renderer{Now: time.Now}
}

// Render replaces every known placeholder in text.
func (r *Renderer) Render(text, preferredLanguage string) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	now := time.Now
	if r != nil && r.Now != nil {
		now = r.Now
	}
	t := now().UTC()
	code, name := languageNames(preferredLanguage)

	return strings.NewReplacer(
		"{{now_date}}", t.Format(time.DateOnly),
		"{{now_datetime}}", t.Format("2006-01-02T15:04:05.000Z07:00"),
		"{{preferred_language_code}}", code,
		"{{preferred_language_en}}", name,
	).Replace(text)
}

// languageNames returns the normalized code and English name of a BCP 47
// tag, falling back to DefaultLanguage for empty or invalid input.
func languageNames(preferred string) (string, string) {
	tag, err := language.Parse(preferred)
	if err != nil || preferred == "" {
		tag = language.MustParse(DefaultLanguage)
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		name = tag.String()
	}
	return tag.String(), name
}
