// Package persona builds the system prompt for a street entity's chat
// persona: a per-category base template, an optional free-text stance,
// the fenced reference-document block, and a language-enforcement clause,
// always in that order.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Language selects the response language. Anything else maps to the default.
const (
	LangJapanese = "ja"
	LangEnglish  = "en"
)

// defaultKey is the table entry used for unrecognized categories.
const defaultKey = "default"

// builtinTemplates is the persona table shipped with the street app.
var builtinTemplates = map[string]map[string]string{
	LangJapanese: {
		"bakery":    "あなたはパン屋の店員です。親切で丁寧に、パンについて詳しく説明してください。",
		"flower":    "あなたは花屋の店員です。花の種類や育て方について親切にアドバイスしてください。",
		"florist":   "あなたは花屋の店員です。花の種類やアレンジメント、花言葉について丁寧に答えてください。",
		"bookstore": "あなたは書店の店員です。本の推薦や読書について親切に相談に乗ってください。",
		"cafe":      "あなたはカフェの店員です。メニューや雰囲気について親切に説明してください。",
		defaultKey:  "あなたは親切な店員です。お客様の質問に丁寧にお答えしてください。",
	},
	LangEnglish: {
		"bakery":    "You are a bakery staff member. Please be kind and polite, and explain bread in detail.",
		"flower":    "You are a flower shop staff member. Please kindly advise on flower types and care.",
		"florist":   "You are a flower shop staff member. Please kindly advise on arrangements and the meaning of flowers.",
		"bookstore": "You are a bookstore staff member. Please kindly help with book recommendations and reading advice.",
		"cafe":      "You are a cafe staff member. Please kindly explain the menu and atmosphere.",
		defaultKey:  "You are a kind staff member. Please politely answer customer questions.",
	},
}

// languageClauses are appended last so they override anything the reference
// documents may claim about language.
var languageClauses = map[string]string{
	LangJapanese: "重要: 必ず日本語で応答してください。英語は一切使用しないでください。",
	LangEnglish:  "CRITICAL: You must respond ONLY in English. Never use Japanese characters, words, or phrases.",
}

// Table resolves categories to base templates.
type Table struct {
	templates       map[string]map[string]string
	defaultLanguage string
}

// NewTable returns a Table with the built-in templates.
// defaultLanguage is used when a request carries no or an unknown language.
func NewTable(defaultLanguage string) *Table {
	return &Table{
		templates:       builtinTemplates,
		defaultLanguage: normalizeLanguage(defaultLanguage, LangJapanese),
	}
}

// personaFile is the YAML override shape:
//
//	ja:
//	  bakery: "..."
//	  default: "..."
//	en:
//	  default: "..."
type personaFile map[string]map[string]string

// LoadTable reads a YAML persona file and merges it over the built-ins.
// Entries in the file replace built-in entries with the same language and
// category; languages other than ja/en are rejected.
func LoadTable(path, defaultLanguage string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	var pf personaFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}

	merged := map[string]map[string]string{}
	for lang, table := range builtinTemplates {
		merged[lang] = map[string]string{}
		for k, v := range table {
			merged[lang][k] = v
		}
	}
	for lang, table := range pf {
		if lang != LangJapanese && lang != LangEnglish {
			return nil, fmt.Errorf("persona file: unsupported language %q", lang)
		}
		for k, v := range table {
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("persona file: empty template for %s/%s", lang, k)
			}
			merged[lang][k] = v
		}
	}

	return &Table{
		templates:       merged,
		defaultLanguage: normalizeLanguage(defaultLanguage, LangJapanese),
	}, nil
}

// Language normalizes a requested language to a supported one.
func (t *Table) Language(requested string) string {
	return normalizeLanguage(requested, t.defaultLanguage)
}

// Compose returns the full system prompt. The result is never empty and
// never contains an unrecognized category name verbatim: unknown categories
// fall back to the default template.
//
// Order is fixed: base template, stance, reference block, language clause.
// The clause comes last so retrieved text cannot override it.
func (t *Table) Compose(category, language, stance, refBlock string) string {
	lang := t.Language(language)

	base, ok := t.templates[lang][strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		base = t.templates[lang][defaultKey]
	}

	var sb strings.Builder
	sb.WriteString(base)
	if s := strings.TrimSpace(stance); s != "" {
		sb.WriteString("\n")
		sb.WriteString(s)
	}
	if refBlock != "" {
		sb.WriteString("\n\n")
		sb.WriteString(refBlock)
	}
	sb.WriteString("\n\n")
	sb.WriteString(languageClauses[lang])
	return sb.String()
}

func normalizeLanguage(requested, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case LangJapanese:
		return LangJapanese
	case LangEnglish:
		return LangEnglish
	}
	return fallback
}
