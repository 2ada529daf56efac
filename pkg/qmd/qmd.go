// Package qmd formats retrieval results into the QMD-compatible search
// result shape external tooling expects: a docid derived from the memory
// item's UUID, a stable file URI, a truncated title, and a diff-style
// snippet header.
package qmd

import (
	"strings"

	"github.com/google/uuid"
)

// diffHeader prefixes every snippet, mimicking a unified-diff hunk header
// so QMD-compatible viewers render the snippet the way they render a diff
// excerpt.
const diffHeader = "@@ -1,4 @@\n\n"

const (
	maxTitleRunes   = 60
	maxSnippetRunes = 300
)

// Result is one QMD-compatible search result entry.
type Result struct {
	DocID   string  `json:"docid" msgpack:"docid"`
	Score   float64 `json:"score" msgpack:"score"`
	File    string  `json:"file" msgpack:"file"`
	Title   string  `json:"title" msgpack:"title"`
	Snippet string  `json:"snippet" msgpack:"snippet"`
}

// Format renders id/content/score as a QMD [Result]. Truncation operates on
// Unicode scalar values, not bytes.
func Format(id uuid.UUID, content string, score float64) Result {
	return Result{
		DocID:   docID(id),
		Score:   score,
		File:    "ethos://memory/" + id.String(),
		Title:   firstLine(content, maxTitleRunes),
		Snippet: diffHeader + truncate(content, maxSnippetRunes),
	}
}

// docID takes the UUID's hex digits (dashes removed) and returns "#" plus
// the first 6 of them, or fewer if the UUID yields fewer than 6.
func docID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	n := min(len(hex), 6)
	return "#" + hex[:n]
}

// firstLine returns the first non-empty line of content, truncated to n
// Unicode scalar values.
func firstLine(content string, n int) string {
	for _, line := range strings.Split(content, "\n") {
		if line != "" {
			return truncate(line, n)
		}
	}
	return ""
}

// truncate returns the first n Unicode scalar values of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
