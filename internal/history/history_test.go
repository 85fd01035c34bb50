package history

import (
	"errors"
	"testing"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/concordance"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/text"
)

func annotated(t *testing.T, src, l2 string, first int) *text.Text {
	t.Helper()
	tx, err := markup.Internalise(src, markup.LayerLemma, l2, "english")
	if err != nil {
		t.Fatalf("Internalise() error = %v", err)
	}
	concordance.Annotate(tx, concordance.Options{FirstUID: first})
	return tx
}

func TestCombine(t *testing.T) {
	a := annotated(t, "<page>le#le/DET# chat#chat/NOUN#||", "french", 1)
	b := annotated(t, "<page>un#un/DET# chat#chat/NOUN#||<page>le#le/DET# chien#chien/NOUN#||", "german", 2)

	got, err := Combine([]*text.Text{a, b})
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if got.L2Language != "french" {
		t.Errorf("L2Language = %q", got.L2Language)
	}
	if len(got.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(got.Pages))
	}
	chat := got.Concordance["chat"]
	if chat == nil || chat.Frequency != 2 || len(chat.Segments) != 2 {
		t.Fatalf("chat entry = %+v", chat)
	}
	if chat.Segments[0] != got.Pages[0].Segments[0] || chat.Segments[1] != got.Pages[1].Segments[0] {
		t.Error("concordance does not point at the combined segments")
	}
	if got.Concordance["le"].Frequency != 2 || got.Concordance["chien"].Frequency != 1 {
		t.Errorf("concordance = %v", got.Concordance)
	}
	if a.Concordance["chat"].Frequency != 1 {
		t.Error("input concordance was modified")
	}
}

func TestCombineErrors(t *testing.T) {
	tests := []struct {
		name  string
		texts []*text.Text
	}{
		{"empty", nil},
		{"nil text", []*text.Text{nil}},
		{"no concordance", []*text.Text{text.New("french", "english")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Combine(tt.texts)
			var he *clerr.ReadingHistoryError
			if !errors.As(err, &he) {
				t.Errorf("Combine() error = %v, want ReadingHistoryError", err)
			}
		})
	}
}
