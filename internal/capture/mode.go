package capture

import "strings"

const (
	English = "en-US"
	Arabic  = "ar-SA"
)

// Mode selects the recognition language(s). Secondary is empty in fixed
// mode.
type Mode struct {
	Primary   string
	Secondary string
}

func Fixed(lang string) Mode { return Mode{Primary: lang} }

func Bilingual(primary, secondary string) Mode {
	return Mode{Primary: primary, Secondary: secondary}
}

func (m Mode) IsBilingual() bool { return m.Secondary != "" }

func (m Mode) String() string {
	if m.IsBilingual() {
		return "bilingual(" + m.Primary + "," + m.Secondary + ")"
	}
	return m.Primary
}

// ParseMode maps the language setting onto a Mode: "bilingual" is English
// first with Arabic as fallback, anything else is a fixed language tag.
func ParseMode(setting string) Mode {
	switch s := strings.TrimSpace(setting); {
	case s == "":
		return Fixed(English)
	case strings.EqualFold(s, "bilingual"):
		return Bilingual(English, Arabic)
	default:
		return Fixed(s)
	}
}
