// Package i18n holds the user-facing phrases in English and Arabic.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Language is a UI language, or Bilingual to join both.
type Language string

const (
	English   Language = "en"
	Arabic    Language = "ar"
	Bilingual Language = "bilingual"
)

// ParseLanguage maps a speech language setting ("en-US", "ar-SA",
// "bilingual") onto a UI language.
func ParseLanguage(setting string) Language {
	s := strings.ToLower(strings.TrimSpace(setting))
	switch {
	case s == "bilingual":
		return Bilingual
	case strings.HasPrefix(s, "ar"):
		return Arabic
	default:
		return English
	}
}

//go:embed locales/*.json
var locales embed.FS

type Translator struct {
	mu           sync.RWMutex
	language     Language
	translations map[Language]map[string]string
}

// New returns a translator with the embedded English and Arabic catalogues.
func New(lang Language) (*Translator, error) {
	t := &Translator{
		language:     lang,
		translations: make(map[Language]map[string]string),
	}

	for _, l := range []Language{English, Arabic} {
		data, err := locales.ReadFile("locales/" + string(l) + ".json")
		if err != nil {
			return nil, err
		}
		if err := t.Load(l, data); err != nil {
			return nil, fmt.Errorf("%s: %w", l, err)
		}
	}

	return t, nil
}

// MustNew is New for the embedded catalogues, which always parse.
func MustNew(lang Language) *Translator {
	t, err := New(lang)
	if err != nil {
		panic(err)
	}
	return t
}

// Load replaces the catalogue of one language with JSON data.
func (t *Translator) Load(lang Language, data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshal translations: %w", err)
	}

	t.mu.Lock()
	t.translations[lang] = m
	t.mu.Unlock()

	return nil
}

func (t *Translator) Language() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.language
}

func (t *Translator) SetLanguage(lang Language) {
	t.mu.Lock()
	t.language = lang
	t.mu.Unlock()
}

// T returns the phrase for key. In bilingual mode both phrases are joined
// with " / " unless they are identical. Unknown keys fall back to English,
// then to the key itself. params fill {name} placeholders.
func (t *Translator) T(key string, params ...string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var text string
	if t.language == Bilingual {
		en, ar := t.lookup(English, key), t.lookup(Arabic, key)
		text = en
		if ar != en {
			text = en + " / " + ar
		}
	} else {
		text = t.lookup(t.language, key)
	}

	for i := 0; i+1 < len(params); i += 2 {
		text = strings.ReplaceAll(text, "{"+params[i]+"}", params[i+1])
	}

	return text
}

func (t *Translator) lookup(lang Language, key string) string {
	if m, ok := t.translations[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if lang != English {
		if s, ok := t.translations[English][key]; ok {
			return s
		}
	}
	return key
}
