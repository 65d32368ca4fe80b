package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStringList(t *testing.T) {
	t.Run("trims and drops empties", func(t *testing.T) {
		result := NormalizeStringList([]string{"  alpha ", "", "   ", "beta"}, false, 0)
		assert.Equal(t, []string{"alpha", "beta"}, result)
	})

	t.Run("deduplicates case-insensitively keeping first spelling", func(t *testing.T) {
		result := NormalizeStringList([]string{"Invoice", "invoice", "INVOICE", "tax"}, false, 0)
		assert.Equal(t, []string{"Invoice", "tax"}, result)
	})

	t.Run("lowercase variant", func(t *testing.T) {
		result := NormalizeStringList([]string{"Invoice", "Tax"}, true, 0)
		assert.Equal(t, []string{"invoice", "tax"}, result)
	})

	t.Run("honors max items", func(t *testing.T) {
		result := NormalizeStringList([]string{"a", "b", "c", "d"}, false, 2)
		assert.Equal(t, []string{"a", "b"}, result)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, NormalizeStringList(nil, false, 0))
	})
}

func TestExtractTriggerCandidates(t *testing.T) {
	t.Run("lowercases and deduplicates", func(t *testing.T) {
		result := ExtractTriggerCandidates("Please review the Invoice now", 10, 2)
		assert.Contains(t, result, "invoice")
		assert.Contains(t, result, "please")
		assert.NotContains(t, result, "Invoice")
	})

	t.Run("drops tokens below minimum length", func(t *testing.T) {
		result := ExtractTriggerCandidates("a is ok", 10, 2)
		assert.NotContains(t, result, "a")
		assert.Contains(t, result, "is")
		assert.Contains(t, result, "ok")
	})

	t.Run("caps at max terms in order of first appearance", func(t *testing.T) {
		result := ExtractTriggerCandidates("one two three four", 2, 2)
		assert.Equal(t, []string{"one", "two"}, result)
	})

	t.Run("keeps hyphenated and apostrophe tokens whole", func(t *testing.T) {
		result := ExtractTriggerCandidates("enable focus-mode at l'heure", 10, 2)
		assert.Contains(t, result, "focus-mode")
		assert.Contains(t, result, "l'heure")
	})

	t.Run("unicode tokens", func(t *testing.T) {
		result := ExtractTriggerCandidates("Überweisung für März", 10, 2)
		assert.Contains(t, result, "überweisung")
		assert.Contains(t, result, "märz")
	})

	t.Run("blank input", func(t *testing.T) {
		assert.Empty(t, ExtractTriggerCandidates("   ", 10, 2))
	})
}

func TestFormatNoteForContext(t *testing.T) {
	updated := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	t.Run("full note", func(t *testing.T) {
		text := FormatNoteForContext(NoteContext{
			Title:        "Billing",
			Content:      "Invoices go out on the 1st.",
			Keywords:     []string{"billing", "finance"},
			TriggerWords: []string{"invoice"},
			UpdatedAt:    updated,
		}, DefaultContextContentLimit)

		assert.Contains(t, text, "Stored note: Billing")
		assert.Contains(t, text, "Last updated: 2025-03-14T09:26:53Z")
		assert.Contains(t, text, "Body: Invoices go out on the 1st.")
		assert.Contains(t, text, "Keywords: billing, finance")
		assert.Contains(t, text, "Trigger words: invoice")
	})

	t.Run("untitled note gets placeholder", func(t *testing.T) {
		text := FormatNoteForContext(NoteContext{Content: "body"}, 0)
		assert.Contains(t, text, "Stored note: New note")
	})

	t.Run("long body is truncated", func(t *testing.T) {
		text := FormatNoteForContext(NoteContext{
			Title:   "Long",
			Content: strings.Repeat("x", 50),
		}, 10)
		assert.Contains(t, text, "Body: "+strings.Repeat("x", 10)+"…")
		assert.NotContains(t, text, strings.Repeat("x", 11))
	})

	t.Run("empty sections are omitted", func(t *testing.T) {
		text := FormatNoteForContext(NoteContext{Title: "Bare"}, 0)
		assert.NotContains(t, text, "Body:")
		assert.NotContains(t, text, "Keywords:")
		assert.NotContains(t, text, "Trigger words:")
		assert.NotContains(t, text, "Last updated:")
	})
}
