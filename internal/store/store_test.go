package store

import (
	"encoding/json"
	"testing"
)

func TestHistoryKey(t *testing.T) {
	got := historyKey("abc-123")
	want := "session:abc-123:messages"
	if got != want {
		t.Fatalf("historyKey() = %q, want %q", got, want)
	}
}

func TestCachedMessageRoundtrip(t *testing.T) {
	raw, err := json.Marshal(cachedMessage{Role: "user", Content: "what is a monad?"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var cm cachedMessage
	if err := json.Unmarshal(raw, &cm); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cm.Role != "user" || cm.Content != "what is a monad?" {
		t.Fatalf("roundtrip mismatch: %+v", cm)
	}
}

func TestCachedMessageRejectsGarbage(t *testing.T) {
	var cm cachedMessage
	if err := json.Unmarshal([]byte("{not json"), &cm); err == nil {
		t.Fatal("expected unmarshal error for corrupt entry")
	}
}
