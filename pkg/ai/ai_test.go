package ai

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nawresmhed/guidezella/pkg/conversation"
)

func TestSingleCall(t *testing.T) {
	calls := []conversation.ToolCall{
		{ID: "1", Name: "A"},
		{ID: "2", Name: "B"},
	}
	for _, tc := range []struct {
		name    string
		calls   []conversation.ToolCall
		policy  CallPolicy
		wantID  string
		wantErr bool
	}{
		{name: "none", calls: nil, policy: PolicyReject},
		{name: "one", calls: calls[:1], policy: PolicyReject, wantID: "1"},
		{name: "reject", calls: calls, policy: PolicyReject, wantErr: true},
		{name: "default rejects", calls: calls, policy: "", wantErr: true},
		{name: "first", calls: calls, policy: PolicyFirst, wantID: "1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SingleCall(tc.calls, tc.policy)
			if tc.wantErr {
				if !errors.Is(err, conversation.ErrProtocolViolation) {
					t.Errorf("want ErrProtocolViolation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tc.wantID == "" {
				if got != nil {
					t.Errorf("want no call, got %+v", got)
				}
				return
			}
			if got == nil || got.ID != tc.wantID {
				t.Errorf("want call %s, got %+v", tc.wantID, got)
			}
		})
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	got, err := LoadSystemPrompt("")
	if err != nil || got != SystemPrompt {
		t.Errorf("empty path should give the default prompt")
	}

	p := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(p, []byte("  Be brief.\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadSystemPrompt(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Be brief." {
		t.Errorf("got %q", got)
	}

	if _, err := LoadSystemPrompt(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Errorf("want an error for a missing file")
	}
}
