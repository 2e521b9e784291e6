// Package classification implements the saliency-weighted kNN spam classifier.
package classification

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"spamfilter/pkg/logger"
)

// =============================================================================
// Lexicon (versioned keyword configuration)
// =============================================================================

// Entry is one weighted keyword pattern.
type Entry struct {
	Pattern string  `json:"pattern" toml:"pattern" yaml:"pattern"`
	Weight  float64 `json:"weight" toml:"weight" yaml:"weight"`
}

// Lexicon is the keyword configuration behind the saliency and subcategory
// heuristics. Entries are ordered; the first match wins where it matters.
type Lexicon struct {
	Version string `json:"version" toml:"version" yaml:"version"`

	// Saliency
	Promotional       []Entry `json:"promotional" toml:"promotional" yaml:"promotional"`
	SocialEngineering []Entry `json:"social_engineering" toml:"social_engineering" yaml:"social_engineering"`
	Urgency           []Entry `json:"urgency" toml:"urgency" yaml:"urgency"`
	MoneyPattern      string  `json:"money_pattern" toml:"money_pattern" yaml:"money_pattern"`
	MoneyBonus        float64 `json:"money_bonus" toml:"money_bonus" yaml:"money_bonus"`

	// Subcategory (the two lists must not share patterns)
	SubcategoryPromotional []string `json:"subcategory_promotional" toml:"subcategory_promotional" yaml:"subcategory_promotional"`
	SubcategorySystemAlert []string `json:"subcategory_system_alert" toml:"subcategory_system_alert" yaml:"subcategory_system_alert"`
}

const (
	promotionalWeight = 1.0
	socialWeight      = 2.0
	urgencyWeight     = 1.5
	moneyBonus        = 2.0

	defaultMoneyPattern = `\$\d+|\d+\$|\d+\s*(triệu|nghìn|đồng|dollar)`
)

var promotionalTerms = []string{
	"free", "win", "winner", "cash", "prize", "click", "buy", "cheap",
	"offer", "limited", "urgent", "act now", "subscribe", "risk-free",
	"guarantee", "money back", "trial", "exclusive", "deal", "miễn phí",
	"trúng", "thưởng", "tiền mặt", "nhấp", "mua", "rẻ", "khuyến mãi",
	"giới hạn", "khẩn cấp", "đăng ký", "bảo đảm", "dùng thử", "độc quyền", "ưu đãi",
}

var socialTerms = []string{
	"mom", "boss", "hr", "manager", "security update", "unusual login",
	"hospital bill", "emergency", "help buy", "reimburse", "gift cards",
	"short-staffed", "extra shifts", "card was declined", "warranty",
	"mẹ", "sếp", "nhân sự", "cập nhật bảo mật", "đăng nhập bất thường",
	"viện phí", "khẩn cấp", "giúp mua", "hoàn tiền",
	"thiếu nhân sự", "ca làm thêm", "thẻ bị từ chối", "bảo hành",
}

var urgencyTerms = []string{
	"today", "tomorrow", "this week", "before friday", "reply yes",
	"cancel anytime", "confirm before", "register early", "already got mine",
	"hôm nay", "ngày mai", "tuần này", "trước thứ sáu", "trả lời có",
}

// System alerts extend the social list with account-takeover vocabulary.
// "khẩn cấp" stays promotional only.
var systemAlertExtra = []string{
	"account", "suspended", "verify", "password", "login",
	"tài khoản", "bị khóa", "xác minh", "mật khẩu",
}

func weighted(terms []string, w float64) []Entry {
	out := make([]Entry, len(terms))
	for i, t := range terms {
		out[i] = Entry{Pattern: t, Weight: w}
	}
	return out
}

// DefaultLexicon returns the built-in bilingual (English/Vietnamese) lexicon.
func DefaultLexicon() *Lexicon {
	system := make([]string, 0, len(socialTerms)+len(systemAlertExtra))
	for _, t := range socialTerms {
		if t != "khẩn cấp" {
			system = append(system, t)
		}
	}
	system = append(system, systemAlertExtra...)

	return &Lexicon{
		Version:                "builtin-1",
		Promotional:            weighted(promotionalTerms, promotionalWeight),
		SocialEngineering:      weighted(socialTerms, socialWeight),
		Urgency:                weighted(urgencyTerms, urgencyWeight),
		MoneyPattern:           defaultMoneyPattern,
		MoneyBonus:             moneyBonus,
		SubcategoryPromotional: append([]string(nil), promotionalTerms...),
		SubcategorySystemAlert: system,
	}
}

// LoadLexicon reads a lexicon file (.toml, .yaml/.yml or .json).
// Empty sections fall back to the built-in defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}

	lex := &Lexicon{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, lex)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, lex)
	case ".json":
		err = json.Unmarshal(data, lex)
	default:
		return nil, fmt.Errorf("unsupported lexicon format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}

	lex.fillDefaults()
	return lex, nil
}

func (l *Lexicon) fillDefaults() {
	def := DefaultLexicon()
	if len(l.Promotional) == 0 {
		l.Promotional = def.Promotional
	}
	if len(l.SocialEngineering) == 0 {
		l.SocialEngineering = def.SocialEngineering
	}
	if len(l.Urgency) == 0 {
		l.Urgency = def.Urgency
	}
	if l.MoneyPattern == "" {
		l.MoneyPattern = def.MoneyPattern
	}
	if l.MoneyBonus == 0 {
		l.MoneyBonus = def.MoneyBonus
	}
	if len(l.SubcategoryPromotional) == 0 {
		l.SubcategoryPromotional = def.SubcategoryPromotional
	}
	if len(l.SubcategorySystemAlert) == 0 {
		l.SubcategorySystemAlert = def.SubcategorySystemAlert
	}
	if l.Version == "" {
		l.Version = "custom"
	}
}

// =============================================================================
// Compiled form
// =============================================================================

// Heuristics is the compiled, read-only lexicon used at serving time.
type Heuristics struct {
	version     string
	promotional []Entry
	social      []Entry
	urgency     []Entry
	money       *regexp.Regexp
	moneyBonus  float64
	subPromo    []string
	subSystem   []string
}

// foldText applies NFC normalization and Unicode case folding.
// cases.Caser is stateful, so a fresh one is used per call.
func foldText(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Compile validates and folds the lexicon. Invalid entries are logged and
// skipped; an invalid money pattern falls back to the default one.
func (l *Lexicon) Compile() (*Heuristics, error) {
	log := logger.WithField("component", "lexicon").WithField("version", l.Version)

	h := &Heuristics{
		version:     l.Version,
		promotional: compileEntries(log, "promotional", l.Promotional),
		social:      compileEntries(log, "social_engineering", l.SocialEngineering),
		urgency:     compileEntries(log, "urgency", l.Urgency),
		moneyBonus:  l.MoneyBonus,
		subPromo:    compileTerms(l.SubcategoryPromotional),
		subSystem:   compileTerms(l.SubcategorySystemAlert),
	}

	re, err := regexp.Compile(l.MoneyPattern)
	if err != nil {
		log.WithError(err).Warn("invalid money pattern %q, using default", l.MoneyPattern)
		re = regexp.MustCompile(defaultMoneyPattern)
	}
	h.money = re

	promo := make(map[string]struct{}, len(h.subPromo))
	for _, p := range h.subPromo {
		promo[p] = struct{}{}
	}
	for _, s := range h.subSystem {
		if _, dup := promo[s]; dup {
			return nil, fmt.Errorf("subcategory lexicons overlap on %q", s)
		}
	}
	return h, nil
}

func compileEntries(log *logger.Logger, section string, entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		p := foldText(strings.TrimSpace(e.Pattern))
		if p == "" {
			log.Warn("skipping empty %s entry #%d", section, i)
			continue
		}
		if e.Weight <= 0 {
			log.Warn("skipping %s entry %q: weight %v must be positive", section, e.Pattern, e.Weight)
			continue
		}
		out = append(out, Entry{Pattern: p, Weight: e.Weight})
	}
	return out
}

func compileTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		p := foldText(strings.TrimSpace(t))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// MustDefaultHeuristics compiles the built-in lexicon.
func MustDefaultHeuristics() *Heuristics {
	h, err := DefaultLexicon().Compile()
	if err != nil {
		panic(err)
	}
	return h
}

// Version returns the lexicon version the heuristics were compiled from.
func (h *Heuristics) Version() string { return h.version }
