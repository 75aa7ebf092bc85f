// Package export writes a finished world out as a browsable mailbox
// tree: one JSON file per email, grouped by folder, plus index files
// for characters and threads.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mailweave/internal/domain"
)

type Gateway struct {
	root string
}

func NewGateway(root string) (*Gateway, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve export root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create export root: %w", err)
	}
	return &Gateway{root: absRoot}, nil
}

// exportedEmail flattens the email with its thread subject and resolved
// character names so each file is readable on its own.
type exportedEmail struct {
	domain.Email
	FromName      string   `json:"fromName"`
	ToNames       []string `json:"toNames"`
	ThreadSubject string   `json:"threadSubject"`
}

type threadIndexEntry struct {
	ID           string   `json:"id"`
	Subject      string   `json:"subject"`
	Origin       string   `json:"origin"`
	Participants []string `json:"participants"`
	EmailCount   int      `json:"emailCount"`
}

// WriteMailbox lays the world out under root:
//
//	<folder>/<NNN>-<subject-slug>.json   one file per email
//	characters.json                      cast with voices and goals
//	threads.json                         thread index
func (g *Gateway) WriteMailbox(w *domain.WorldState) error {
	names := make(map[string]string, len(w.Characters))
	for _, c := range w.Characters {
		names[c.ID] = c.Name
	}
	subjects := make(map[string]string, len(w.Threads))
	for _, th := range w.Threads {
		subjects[th.ID] = th.Subject
	}

	for i, em := range w.Emails {
		out := exportedEmail{
			Email:         em,
			FromName:      names[em.From],
			ThreadSubject: subjects[em.ThreadID],
		}
		for _, id := range em.To {
			out.ToNames = append(out.ToNames, names[id])
		}
		name := fmt.Sprintf("%03d-%s.json", i+1, slug(em.Subject))
		if err := g.writeJSON(filepath.Join(string(em.Folder), name), out); err != nil {
			return err
		}
	}

	if err := g.writeJSON("characters.json", w.Characters); err != nil {
		return err
	}

	index := make([]threadIndexEntry, 0, len(w.Threads))
	for _, th := range w.Threads {
		index = append(index, threadIndexEntry{
			ID:           th.ID,
			Subject:      th.Subject,
			Origin:       string(th.OriginType),
			Participants: th.Participants,
			EmailCount:   len(th.EmailIDs),
		})
	}
	return g.writeJSON("threads.json", index)
}

func (g *Gateway) writeJSON(relPath string, v any) error {
	absPath, err := g.resolve(relPath)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", relPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	return nil
}

func (g *Gateway) resolve(relPath string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" || normalized == "." {
		return "", fmt.Errorf("invalid relative path %q", relPath)
	}

	abs := filepath.Clean(filepath.Join(g.root, filepath.FromSlash(normalized)))
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return "", fmt.Errorf("resolve relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path escapes export root: %q", relPath)
	}
	return abs, nil
}

// slug reduces a subject line to a safe filename fragment.
func slug(subject string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(subject) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		s = "untitled"
	}
	return s
}
