package classification

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"spamfilter/core/domain"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSaliency(t *testing.T) {
	h := MustDefaultHeuristics()

	tests := []struct {
		name string
		text string
		want float64
	}{
		{"empty", "", 0.2},
		{"whitespace only", "   \n\t", 0.2},
		{"plain", "see you at lunch", 0.2},
		{"promotional and money", "Congratulations! You've won $1000! Click here now!", 3.0/7 + 0.2},
		{"vietnamese urgency and money", "Khuyến mãi 50 nghìn hôm nay", 3.5/6 + 0.2},
		{"social engineering", "hi mom my card was declined", 4.0/6 + 0.2},
		{"clamped high", "FREE WIN CASH", 1.0},
		{"case folded", "CLICK", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Saliency(tt.text)
			if !approx(got, tt.want) {
				t.Errorf("Saliency(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSaliency_Bounds(t *testing.T) {
	h := MustDefaultHeuristics()
	inputs := []string{
		"", "a", "free free free free", "$1 $2 $3",
		"urgent offer today tomorrow this week reply yes",
		"a b c d e f g h i j k l m n o p q r s t u v w x y z",
		"mẹ ơi sếp bảo mua thẻ, khẩn cấp, hôm nay trước thứ sáu 5 triệu",
	}
	for _, in := range inputs {
		if s := h.Saliency(in); s < 0.1 || s > 1.0 {
			t.Errorf("Saliency(%q) = %v, outside [0.1, 1.0]", in, s)
		}
	}
}

func TestSaliency_FirstPromotionalEntryWins(t *testing.T) {
	lex := &Lexicon{
		Version:     "test",
		Promotional: []Entry{{Pattern: "win", Weight: 3}, {Pattern: "winner", Weight: 5}},
	}
	lex.fillDefaults()
	h, err := lex.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// one word, first matching entry only: 3/1 + 0.2 clamped
	if got := h.Saliency("winner"); got != 1.0 {
		t.Errorf("Saliency(winner) = %v, want 1.0", got)
	}
	// "winner" scores 3 once over 10 words
	text := "winner a b c d e f g h i"
	if got := h.Saliency(text); !approx(got, 0.3+0.2) {
		t.Errorf("Saliency(%q) = %v, want 0.5", text, got)
	}
}

func TestCompile_SkipsInvalidEntries(t *testing.T) {
	lex := &Lexicon{
		Version:      "test",
		Promotional:  []Entry{{Pattern: "", Weight: 1}, {Pattern: "deal", Weight: -1}, {Pattern: "sale", Weight: 1}},
		MoneyPattern: `(`,
	}
	lex.fillDefaults()
	h, err := lex.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(h.promotional) != 1 || h.promotional[0].Pattern != "sale" {
		t.Errorf("promotional = %+v, want only sale", h.promotional)
	}
	if h.money.String() != defaultMoneyPattern {
		t.Errorf("money pattern = %q, want default", h.money.String())
	}
}

func TestCompile_RejectsOverlappingSubcategories(t *testing.T) {
	lex := DefaultLexicon()
	lex.SubcategorySystemAlert = append(lex.SubcategorySystemAlert, "FREE")
	if _, err := lex.Compile(); err == nil {
		t.Error("expected overlap error")
	}
}

func TestLoadLexicon(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"lex.toml": `version = "v2"
money_bonus = 4.0

[[promotional]]
pattern = "bargain"
weight = 1.0
`,
		"lex.yaml": `version: v2
money_bonus: 4
promotional:
  - pattern: bargain
    weight: 1
`,
		"lex.json": `{"version":"v2","money_bonus":4,"promotional":[{"pattern":"bargain","weight":1}]}`,
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			lex, err := LoadLexicon(path)
			if err != nil {
				t.Fatalf("LoadLexicon: %v", err)
			}
			if lex.Version != "v2" || lex.MoneyBonus != 4 {
				t.Errorf("got version=%q bonus=%v", lex.Version, lex.MoneyBonus)
			}
			if len(lex.Promotional) != 1 || lex.Promotional[0].Pattern != "bargain" {
				t.Errorf("promotional = %+v", lex.Promotional)
			}
			if len(lex.Urgency) == 0 || lex.MoneyPattern == "" {
				t.Error("missing sections should fall back to defaults")
			}
			h, err := lex.Compile()
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			// bargain(1) + money bonus(4) over 2 words + 0.2
			if got := h.Saliency("bargain $5"); got != 1.0 {
				t.Errorf("Saliency = %v, want 1.0", got)
			}
		})
	}

	if _, err := LoadLexicon(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(dir, "lex.ini")
	_ = os.WriteFile(bad, []byte("x"), 0o600)
	if _, err := LoadLexicon(bad); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestSubcategory(t *testing.T) {
	h := MustDefaultHeuristics()

	tests := []struct {
		text string
		want domain.Subcategory
	}{
		{"Sale 80% off! Buy now!", domain.SubcategoryPromotional},
		{"Your account will be suspended. Verify now!", domain.SubcategorySystemSocialEngineering},
		{"See you at lunch", domain.SubcategoryOther},
		{"", domain.SubcategoryOther},
		// one hit each: tie goes to promotional
		{"free gift cards", domain.SubcategoryPromotional},
		{"Unusual login detected, reset your password", domain.SubcategorySystemSocialEngineering},
		{"Ưu đãi khuyến mãi miễn phí", domain.SubcategoryPromotional},
		{"Mẹ ơi, viện phí gấp", domain.SubcategorySystemSocialEngineering},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := h.Subcategory(tt.text); got != tt.want {
				t.Errorf("Subcategory(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestDefaultLexicon_SubcategoriesDisjoint(t *testing.T) {
	h := MustDefaultHeuristics()
	promo := make(map[string]bool)
	for _, p := range h.subPromo {
		promo[p] = true
	}
	for _, s := range h.subSystem {
		if promo[s] {
			t.Errorf("%q is in both subcategory lexicons", s)
		}
	}
}
