package utils

import (
	"strings"
	"testing"
	"time"
)

func TestNewTempIDUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]struct{})
	for range 1000 {
		id := NewTempID(now)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate temp id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewMessageIDPrefix(t *testing.T) {
	if id := NewMessageID(); !strings.HasPrefix(id, "msg_") {
		t.Fatalf("unexpected id %q", id)
	}
}
