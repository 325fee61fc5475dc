// Package i18n serves user and operator texts from an embedded YAML catalog.
package i18n

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback is the language used when a key is missing in the requested one.
const Fallback = "en"

//go:embed catalog/*.yaml
var files embed.FS

// Language is a selectable display language.
type Language struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type catalogFile struct {
	Languages []Language                   `yaml:"languages"`
	Texts     map[string]map[string]string `yaml:"texts"`
}

// Vars fills {name} placeholders.
type Vars map[string]any

// Catalog resolves texts by language and key.
type Catalog struct {
	languages []Language
	user      map[string]map[string]string
	admin     map[string]map[string]string
	adminLang string
}

// Load parses the embedded catalog. adminLang selects the operator texts.
func Load(adminLang string) (*Catalog, error) {
	user, err := readFile("catalog/user.yaml")
	if err != nil {
		return nil, err
	}
	admin, err := readFile("catalog/admin.yaml")
	if err != nil {
		return nil, err
	}
	if len(user.Languages) == 0 {
		return nil, fmt.Errorf("i18n: user catalog declares no languages")
	}
	if _, ok := user.Texts[Fallback]; !ok {
		return nil, fmt.Errorf("i18n: user catalog lacks %q texts", Fallback)
	}
	adminLang = strings.ToLower(strings.TrimSpace(adminLang))
	if _, ok := admin.Texts[adminLang]; !ok {
		adminLang = Fallback
	}
	return &Catalog{
		languages: user.Languages,
		user:      user.Texts,
		admin:     admin.Texts,
		adminLang: adminLang,
	}, nil
}

func readFile(name string) (catalogFile, error) {
	var out catalogFile
	data, err := files.ReadFile(name)
	if err != nil {
		return out, fmt.Errorf("i18n: read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("i18n: parse %s: %w", name, err)
	}
	return out, nil
}

// Languages returns the selectable languages in display order.
func (c *Catalog) Languages() []Language {
	return append([]Language(nil), c.languages...)
}

// Supported reports whether code is a selectable language.
func (c *Catalog) Supported(code string) bool {
	for _, l := range c.languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

// User returns an end-user text. Missing keys fall back to English, then
// to the key itself.
func (c *Catalog) User(lang, key string, vars ...Vars) string {
	return render(lookup(c.user, lang, key), vars)
}

// Admin returns an operator text in the configured admin language.
func (c *Catalog) Admin(key string, vars ...Vars) string {
	return render(lookup(c.admin, c.adminLang, key), vars)
}

func lookup(m map[string]map[string]string, lang, key string) string {
	if t, ok := m[lang][key]; ok {
		return t
	}
	if t, ok := m[Fallback][key]; ok {
		return t
	}
	return key
}

func render(text string, vars []Vars) string {
	if len(vars) == 0 || !strings.Contains(text, "{") {
		return text
	}
	pairs := make([]string, 0, 8)
	for _, v := range vars {
		for k, val := range v {
			pairs = append(pairs, "{"+k+"}", fmt.Sprint(val))
		}
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
