package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mailweave/internal/domain"
)

func exportWorld() *domain.WorldState {
	sent := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.WorldState{
		Characters: []domain.Character{
			{ID: "alice", Name: "Alice Hart"},
			{ID: "bob", Name: "Bob Linden"},
		},
		Threads: []domain.Thread{
			{ID: "th1", Subject: "Re: the budget", Participants: []string{"alice", "bob"}, EmailIDs: []string{"e1"}, OriginType: domain.OriginCommunication},
		},
		Emails: []domain.Email{
			{
				ID: "e1", ThreadID: "th1", From: "alice", To: []string{"bob"},
				Subject: "Re: the budget", Body: "Numbers attached.",
				SentAt: sent, Folder: domain.FolderInbox,
			},
		},
	}
}

func TestWriteMailboxLayout(t *testing.T) {
	root := t.TempDir()
	g, err := NewGateway(root)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	if err := g.WriteMailbox(exportWorld()); err != nil {
		t.Fatalf("write mailbox: %v", err)
	}

	emailPath := filepath.Join(root, "inbox", "001-re-the-budget.json")
	raw, err := os.ReadFile(emailPath)
	if err != nil {
		t.Fatalf("read exported email: %v", err)
	}
	var out exportedEmail
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode exported email: %v", err)
	}
	if out.FromName != "Alice Hart" {
		t.Fatalf("from name got=%q want=%q", out.FromName, "Alice Hart")
	}
	if len(out.ToNames) != 1 || out.ToNames[0] != "Bob Linden" {
		t.Fatalf("to names got=%v", out.ToNames)
	}
	if out.ThreadSubject != "Re: the budget" {
		t.Fatalf("thread subject got=%q", out.ThreadSubject)
	}

	for _, name := range []string{"characters.json", "threads.json"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("missing index file %s: %v", name, err)
		}
	}

	var index []threadIndexEntry
	raw, err = os.ReadFile(filepath.Join(root, "threads.json"))
	if err != nil {
		t.Fatalf("read thread index: %v", err)
	}
	if err := json.Unmarshal(raw, &index); err != nil {
		t.Fatalf("decode thread index: %v", err)
	}
	if len(index) != 1 || index[0].EmailCount != 1 {
		t.Fatalf("thread index got=%+v", index)
	}
}

func TestResolveRejectsEscapingPaths(t *testing.T) {
	g, err := NewGateway(t.TempDir())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	for _, p := range []string{"../outside.json", "a/../../outside.json", "", "."} {
		if _, err := g.resolve(p); err == nil {
			t.Fatalf("expected rejection for %q", p)
		}
	}
}

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Re: the budget", "re-the-budget"},
		{"WIN BIG $$$ NOW!!!", "win-big-now"},
		{"", "untitled"},
		{"Weekly Archives Digest #3", "weekly-archives-digest-3"},
	}
	for _, tc := range cases {
		if got := slug(tc.in); got != tc.want {
			t.Fatalf("slug(%q) got=%q want=%q", tc.in, got, tc.want)
		}
	}
}
