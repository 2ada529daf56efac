package qmd_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/modernmethod/ethos/pkg/qmd"
)

func TestFormat_ScenarioUUIDAndLongContent(t *testing.T) {
	id := uuid.MustParse("7b5c24ab-1234-5678-9abc-def012345678")
	content := strings.Repeat("A", 100) + "\nline2"

	r := qmd.Format(id, content, 0.87)

	if r.DocID != "#7b5c24" {
		t.Errorf("DocID = %q, want %q", r.DocID, "#7b5c24")
	}
	if len(r.DocID) != 7 {
		t.Errorf("len(DocID) = %d, want 7", len(r.DocID))
	}
	if r.File != "ethos://memory/7b5c24ab-1234-5678-9abc-def012345678" {
		t.Errorf("File = %q", r.File)
	}
	if r.Title != strings.Repeat("A", 60) {
		t.Errorf("Title = %q, want 60 A's", r.Title)
	}
	if !strings.HasPrefix(r.Snippet, "@@ -1,4 @@\n\n") {
		t.Errorf("Snippet does not start with diff header: %q", r.Snippet)
	}
	if r.Score != 0.87 {
		t.Errorf("Score = %v, want 0.87 (verbatim)", r.Score)
	}
}

func TestFormat_TitleSkipsLeadingBlankLines(t *testing.T) {
	id := uuid.New()
	r := qmd.Format(id, "\n\nfirst real line\nsecond", 0)
	if r.Title != "first real line" {
		t.Errorf("Title = %q, want %q", r.Title, "first real line")
	}
}

func TestFormat_TruncatesOnUnicodeScalarValues(t *testing.T) {
	id := uuid.New()
	content := strings.Repeat("界", 400)
	r := qmd.Format(id, content, 0)
	if got := len([]rune(r.Title)); got != 60 {
		t.Errorf("title rune count = %d, want 60", got)
	}
	wantSnippetRunes := len([]rune("@@ -1,4 @@\n\n")) + 300
	if got := len([]rune(r.Snippet)); got != wantSnippetRunes {
		t.Errorf("snippet rune count = %d, want %d", got, wantSnippetRunes)
	}
}

func TestFormat_ShortContentDoesNotPad(t *testing.T) {
	id := uuid.New()
	r := qmd.Format(id, "short", 1)
	if r.Snippet != "@@ -1,4 @@\n\nshort" {
		t.Errorf("Snippet = %q", r.Snippet)
	}
}

func TestDocID_NilUUIDStillSevenChars(t *testing.T) {
	r := qmd.Format(uuid.Nil, "x", 0)
	if r.DocID != "#000000" {
		t.Errorf("DocID = %q, want %q", r.DocID, "#000000")
	}
}
