package session

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

func TestNewAssignsVersion7ID(t *testing.T) {
	s, err := New(slog.New(slog.DiscardHandler), "")
	if err != nil {
		t.Fatal(err)
	}
	id, err := uuid.Parse(s.ID())
	if err != nil {
		t.Fatalf("session id %q is not a uuid: %v", s.ID(), err)
	}
	if id.Version() != 7 {
		t.Errorf("want version 7, got %d", id.Version())
	}
	other, err := New(nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID() == s.ID() {
		t.Errorf("two sessions share the id %s", s.ID())
	}
}

func TestContextRoundTrip(t *testing.T) {
	s, err := New(nil, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := s.With(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got != s {
		t.Fatalf("FromContext returned %v, %v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Errorf("empty context should not have a session")
	}
	if l := Logger(context.Background(), "chat"); l == nil {
		t.Errorf("Logger must never return nil")
	}
}

func TestLogFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(nil, dir)
	if err != nil {
		t.Fatal(err)
	}

	var meta sessionMeta
	if _, err := toml.DecodeFile(filepath.Join(dir, s.ID(), sessionMetaFile), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.SessionID != s.ID() {
		t.Errorf("meta has session id %q, want %q", meta.SessionID, s.ID())
	}

	l, err := s.GetLogger("chat")
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", "n", 1)
	if _, err := s.GetLogger("bad/name"); err == nil {
		t.Errorf("want error for a name with a slash")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, s.ID(), "logs", "chat.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("log file is empty")
	}
	var rec map[string]any
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "hello" || rec["session_id"] != s.ID() {
		t.Errorf("unexpected record %v", rec)
	}
}
