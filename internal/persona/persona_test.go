package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComposeKnownCategory(t *testing.T) {
	table := NewTable(LangJapanese)

	got := table.Compose("bakery", LangJapanese, "", "")
	if !strings.Contains(got, "パン屋") {
		t.Errorf("expected bakery template, got %q", got)
	}
	if !strings.HasSuffix(got, languageClauses[LangJapanese]) {
		t.Errorf("expected language clause last, got %q", got)
	}
}

func TestComposeUnknownCategoryFallsBack(t *testing.T) {
	table := NewTable(LangJapanese)

	for _, category := range []string{"spaceport", "", "BAKERY-2", "武器屋"} {
		got := table.Compose(category, LangEnglish, "", "")
		if got == "" {
			t.Fatalf("category %q: prompt must never be empty", category)
		}
		if category != "" && strings.Contains(got, category) {
			t.Errorf("category %q leaked into the prompt: %q", category, got)
		}
		if !strings.Contains(got, builtinTemplates[LangEnglish][defaultKey]) {
			t.Errorf("category %q: expected default template, got %q", category, got)
		}
	}
}

func TestComposeOrdering(t *testing.T) {
	table := NewTable(LangEnglish)

	ref := "--- begin reference document: menu.txt ---"
	got := table.Compose("cafe", LangEnglish, "Always mention the daily special.", ref)

	base := strings.Index(got, builtinTemplates[LangEnglish]["cafe"])
	stance := strings.Index(got, "daily special")
	refIdx := strings.Index(got, ref)
	clause := strings.Index(got, languageClauses[LangEnglish])

	if base == -1 || stance == -1 || refIdx == -1 || clause == -1 {
		t.Fatalf("missing section in composed prompt: %q", got)
	}
	if !(base < stance && stance < refIdx && refIdx < clause) {
		t.Errorf("wrong section order: base=%d stance=%d ref=%d clause=%d", base, stance, refIdx, clause)
	}
}

func TestComposeEmptyRefBlockLeavesPromptUnaffected(t *testing.T) {
	table := NewTable(LangJapanese)

	withEmpty := table.Compose("bookstore", LangJapanese, "", "")
	want := builtinTemplates[LangJapanese]["bookstore"] + "\n\n" + languageClauses[LangJapanese]
	if withEmpty != want {
		t.Errorf("unexpected prompt with empty ref block:\ngot  %q\nwant %q", withEmpty, want)
	}
}

func TestLanguageNormalization(t *testing.T) {
	table := NewTable("en")

	cases := map[string]string{
		"ja":     LangJapanese,
		"JA":     LangJapanese,
		" en ":   LangEnglish,
		"fr":     LangEnglish, // falls back to the table default
		"":       LangEnglish,
		"ja\n":   LangJapanese,
		"german": LangEnglish,
	}
	for in, want := range cases {
		if got := table.Language(in); got != want {
			t.Errorf("Language(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadTableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	content := "ja:\n  bakery: \"パンの妖精です。\"\n  onsen: \"temp\"\nen:\n  default: \"You are the street guide.\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(path, "ja")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	if got := table.Compose("bakery", "ja", "", ""); !strings.Contains(got, "パンの妖精") {
		t.Errorf("override not applied: %q", got)
	}
	// Categories absent from the file keep their built-ins.
	if got := table.Compose("cafe", "ja", "", ""); !strings.Contains(got, "カフェ") {
		t.Errorf("built-in lost after merge: %q", got)
	}
	if got := table.Compose("whatever", "en", "", ""); !strings.Contains(got, "street guide") {
		t.Errorf("en default override not applied: %q", got)
	}
}

func TestLoadTableRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty-template.yaml")
	if err := os.WriteFile(empty, []byte("ja:\n  bakery: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(empty, "ja"); err == nil {
		t.Error("expected error for empty template")
	}

	badLang := filepath.Join(dir, "bad-lang.yaml")
	if err := os.WriteFile(badLang, []byte("fr:\n  default: \"Bonjour\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(badLang, "ja"); err == nil {
		t.Error("expected error for unsupported language")
	}

	if _, err := LoadTable(filepath.Join(dir, "missing.yaml"), "ja"); err == nil {
		t.Error("expected error for missing file")
	}
}
