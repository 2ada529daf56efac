package consolidation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReviewInbox appends flagged-conflict entries to a Markdown file. It is not
// safe for concurrent writers from separate processes; within one process
// the consolidation engine serializes appends.
type ReviewInbox struct {
	path string
}

// NewReviewInbox resolves path (expanding a leading "~") to an absolute
// path and returns a ReviewInbox writing there.
func NewReviewInbox(path string) (*ReviewInbox, error) {
	expanded, err := expandTilde(path)
	if err != nil {
		return nil, fmt.Errorf("review inbox: %w", err)
	}
	return &ReviewInbox{path: expanded}, nil
}

func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand tilde: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// FlaggedConflict is one conflict-resolution "Flag" outcome.
type FlaggedConflict struct {
	Subject         string
	Predicate       string
	ExistingID      uuid.UUID
	NewStatement    string
	NewConfidence   float64
	SourceEpisodeID uuid.UUID
}

// Append writes a timestamped Markdown section for fc, suggesting the
// keep-old / keep-new / keep-both actions a human reviewer can take.
func (r *ReviewInbox) Append(fc FlaggedConflict, now time.Time) error {
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("review inbox: open: %w", err)
	}
	defer f.Close()

	section := fmt.Sprintf(`## Conflict flagged — %s

- **Subject**: %s
- **Predicate**: %s
- **Existing fact**: %s
- **New statement**: %s
- **New confidence**: %.2f
- **Source episode**: %s
- **Suggested actions**: keep-old | keep-new | keep-both

`,
		now.UTC().Format(time.RFC3339),
		fc.Subject, fc.Predicate, fc.ExistingID, fc.NewStatement, fc.NewConfidence, fc.SourceEpisodeID,
	)

	if _, err := f.WriteString(section); err != nil {
		return fmt.Errorf("review inbox: write: %w", err)
	}
	return nil
}
