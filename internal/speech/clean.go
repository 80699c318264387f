package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	cleanReplacer = strings.NewReplacer(
		"\n", " ",
		"\t", " ",
		"•", "",
		"*", "",
		"`", "",
		"|", ",",
		"_", " ",
		"...", ",",
		"---", ",",
		"--", ",",
		"~", "",
		">", "",
		"<", "",
		"[]", "",
		"()", "",
		"{}", "",
		"#", "",
	)

	spaceRe       = regexp.MustCompile(`\s+`)
	spacePunctRe  = regexp.MustCompile(`\s+([,.!?])`)
	repeatCommaRe = regexp.MustCompile(`,\s*,`)
)

// CleanText strips markdown-ish formatting so the engine does not read it
// aloud, and collapses whitespace.
func CleanText(text string) string {
	text = cleanReplacer.Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")
	text = spacePunctRe.ReplaceAllString(text, "$1")
	text = repeatCommaRe.ReplaceAllString(text, ",")
	return strings.TrimSpace(text)
}

// HasArabic reports whether text contains a rune from the Arabic block
// U+0600..U+06FF.
func HasArabic(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return r >= 0x0600 && r <= 0x06FF
	}) >= 0
}

// IsBlank reports whether text has nothing worth speaking.
func IsBlank(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0
}
