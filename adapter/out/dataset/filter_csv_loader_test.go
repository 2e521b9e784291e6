package dataset

import (
	"strings"
	"testing"

	"spamfilter/core/domain"
)

func TestLoadCSV(t *testing.T) {
	labels := domain.DefaultLabelSet()
	spam, _ := labels.Lookup("spam")
	ham, _ := labels.Lookup("ham")

	tests := []struct {
		name      string
		csv       string
		wantText  string
		wantLabel string
		want      []domain.Sample
		wantErr   bool
	}{
		{
			name:      "standard columns",
			csv:       "message,label\nWin cash now,spam\nSee you soon,ham\n",
			wantText:  "message",
			wantLabel: "label",
			want:      []domain.Sample{{Message: "Win cash now", Label: spam}, {Message: "See you soon", Label: ham}},
		},
		{
			name:      "aliases and substring detection",
			csv:       "id,texts_vi,Category\n1,Trúng thưởng,1\n2,Xin chào,0\n3,Hello,legitimate\n4,Reset now,phishing\n",
			wantText:  "texts_vi",
			wantLabel: "Category",
			want: []domain.Sample{
				{Message: "Trúng thưởng", Label: spam},
				{Message: "Xin chào", Label: ham},
				{Message: "Hello", Label: ham},
				{Message: "Reset now", Label: spam},
			},
		},
		{
			name:      "drops empty and unknown",
			csv:       "body_text,is_label\n  ,spam\nhi,maybe\nok,HAM\n",
			wantText:  "body_text",
			wantLabel: "is_label",
			want:      []domain.Sample{{Message: "ok", Label: ham}},
		},
		{
			name:      "falls back to positional columns",
			csv:       "a,b\nfree prize,spam\n",
			wantText:  "a",
			wantLabel: "b",
			want:      []domain.Sample{{Message: "free prize", Label: spam}},
		},
		{name: "no usable rows", csv: "message,label\nhi,unknown\n", wantErr: true},
		{name: "empty", csv: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rep, err := LoadCSV(strings.NewReader(tt.csv), labels)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCSV() error = %v", err)
			}
			if rep.TextColumn != tt.wantText || rep.LabelColumn != tt.wantLabel {
				t.Errorf("columns = %q/%q, want %q/%q", rep.TextColumn, rep.LabelColumn, tt.wantText, tt.wantLabel)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d samples, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadCSV_Report(t *testing.T) {
	_, rep, err := LoadCSV(strings.NewReader("message,label\na,spam\n,ham\nb,x\nc,ham\n"), domain.DefaultLabelSet())
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if rep.Rows != 4 || rep.Kept != 2 || rep.EmptyText != 1 || rep.UnknownLabel != 1 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Distribution["spam"] != 1 || rep.Distribution["ham"] != 1 {
		t.Errorf("distribution = %v", rep.Distribution)
	}
}
