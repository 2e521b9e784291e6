// Package dataset loads labeled training data.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"spamfilter/core/domain"
	"spamfilter/pkg/logger"
)

var (
	textCandidates  = []string{"message", "text", "content", "email", "post", "comment", "texts_vi", "Message"}
	labelCandidates = []string{"label", "class", "category", "type", "Category"}
)

// labelAliases maps raw dataset labels onto the canonical label names.
var labelAliases = map[string]string{
	"0":          "ham",
	"ham":        "ham",
	"normal":     "ham",
	"legitimate": "ham",
	"not_spam":   "ham",
	"1":          "spam",
	"spam":       "spam",
	"phishing":   "spam",
	"is_spam":    "spam",
}

// Report summarizes what the loader kept and dropped.
type Report struct {
	TextColumn   string
	LabelColumn  string
	Rows         int
	Kept         int
	EmptyText    int
	UnknownLabel int
	Distribution map[string]int
}

// LoadCSVFile opens path and calls LoadCSV.
func LoadCSVFile(path string, labels *domain.LabelSet) ([]domain.Sample, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, labels)
}

// LoadCSV reads a headered CSV, detects the text and label columns and
// keeps rows whose label maps into labels. Rows with empty text are dropped.
func LoadCSV(r io.Reader, labels *domain.LabelSet) ([]domain.Sample, *Report, error) {
	log := logger.WithField("component", "dataset")

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("dataset is empty")
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	textCol := detectColumn(header, textCandidates, "text", "message")
	if textCol < 0 {
		textCol = 0
		log.Warn("text column not found, using first column: %s", header[0])
	}
	labelCol := detectColumn(header, labelCandidates, "label")
	if labelCol < 0 {
		labelCol = 0
		if len(header) > 1 {
			labelCol = 1
		}
		log.Warn("label column not found, using: %s", header[labelCol])
	}

	rep := &Report{
		TextColumn:   header[textCol],
		LabelColumn:  header[labelCol],
		Distribution: make(map[string]int),
	}
	log.Info("using text column %q and label column %q", rep.TextColumn, rep.LabelColumn)

	var samples []domain.Sample
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", rep.Rows+2, err)
		}
		rep.Rows++
		if textCol >= len(row) || labelCol >= len(row) {
			rep.EmptyText++
			continue
		}

		text := strings.TrimSpace(row[textCol])
		if text == "" {
			rep.EmptyText++
			continue
		}
		label, ok := MapLabel(row[labelCol], labels)
		if !ok {
			rep.UnknownLabel++
			continue
		}
		samples = append(samples, domain.Sample{Message: text, Label: label})
		rep.Distribution[labels.Name(label)]++
	}
	rep.Kept = len(samples)

	if rep.UnknownLabel > 0 {
		log.Warn("dropped %d rows with unrecognized labels", rep.UnknownLabel)
	}
	if len(samples) == 0 {
		return nil, rep, errors.New("dataset has no usable rows")
	}
	log.Info("loaded %d of %d rows, distribution %v", rep.Kept, rep.Rows, rep.Distribution)
	return samples, rep, nil
}

// MapLabel resolves a raw label through the alias table, then the label set.
func MapLabel(raw string, labels *domain.LabelSet) (domain.Label, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := labelAliases[key]; ok {
		key = alias
	}
	return labels.Lookup(key)
}

// detectColumn returns the first header that is a candidate or contains one
// of the substrings (case-insensitive), or -1.
func detectColumn(header, candidates []string, substrings ...string) int {
	for i, col := range header {
		for _, c := range candidates {
			if col == c {
				return i
			}
		}
		lower := strings.ToLower(col)
		for _, s := range substrings {
			if strings.Contains(lower, s) {
				return i
			}
		}
	}
	return -1
}
