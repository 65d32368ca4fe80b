package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// triggerTokenRe matches alphanumeric runs (Unicode-aware), allowing internal
// apostrophes and hyphens so "focus-mode" and "l'heure" stay single tokens.
var triggerTokenRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['-][\p{L}\p{N}]+)*`)

// DefaultContextContentLimit caps note bodies injected into prompts.
const DefaultContextContentLimit = 1200

// NormalizeStringList trims, drops empties, and deduplicates case-insensitively
// while preserving order. With lowercase set, results are lowercased; maxItems
// of 0 means unbounded.
func NormalizeStringList(values []string, lowercase bool, maxItems int) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))

	for _, raw := range values {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if lowercase {
			result = append(result, key)
		} else {
			result = append(result, text)
		}
		if maxItems > 0 && len(result) >= maxItems {
			break
		}
	}
	return result
}

// ExtractTriggerCandidates lowercases free text, tokenizes it, filters tokens
// shorter than minLength runes, and returns up to maxTerms unique tokens in
// order of first appearance.
func ExtractTriggerCandidates(text string, maxTerms, minLength int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	tokens := triggerTokenRe.FindAllString(strings.ToLower(text), -1)
	results := make([]string, 0, maxTerms)
	seen := make(map[string]struct{}, maxTerms)

	for _, token := range tokens {
		if len([]rune(token)) < minLength {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		results = append(results, token)
		if maxTerms > 0 && len(results) >= maxTerms {
			break
		}
	}
	return results
}

// NoteContext is the subset of a note needed to build a prompt block.
type NoteContext struct {
	Title        string
	Content      string
	Keywords     []string
	TriggerWords []string
	UpdatedAt    time.Time
}

// FormatNoteForContext renders a note as a compact context block for the
// generation prompt. Long bodies are truncated to contentLimit runes.
func FormatNoteForContext(note NoteContext, contentLimit int) string {
	title := strings.TrimSpace(note.Title)
	if title == "" {
		title = "New note"
	}
	content := strings.TrimSpace(note.Content)
	if contentLimit > 0 {
		if runes := []rune(content); len(runes) > contentLimit {
			content = strings.TrimRight(string(runes[:contentLimit]), " \t\n") + "…"
		}
	}

	lines := []string{fmt.Sprintf("Stored note: %s", title)}
	if !note.UpdatedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Last updated: %s", note.UpdatedAt.UTC().Format(time.RFC3339)))
	}
	if content != "" {
		lines = append(lines, fmt.Sprintf("Body: %s", content))
	}
	if len(note.Keywords) > 0 {
		lines = append(lines, fmt.Sprintf("Keywords: %s", strings.Join(note.Keywords, ", ")))
	}
	if len(note.TriggerWords) > 0 {
		lines = append(lines, fmt.Sprintf("Trigger words: %s", strings.Join(note.TriggerWords, ", ")))
	}
	return strings.Join(lines, "\n")
}
