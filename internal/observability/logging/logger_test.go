package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWritesEventNamesAndService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "rules-qa-api", "debug")
	logger.Debug("hop_evaluated", "hop", 1)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["event"] != "hop_evaluated" || line["service"] != "rules-qa-api" {
		t.Fatalf("unexpected record %v", line)
	}
	if line["level"] != "debug" || line["hop"] != float64(1) {
		t.Fatalf("unexpected level or attrs %v", line)
	}
	if _, ok := line["msg"]; ok {
		t.Fatalf("msg key should be renamed, got %v", line)
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "svc", "warn").Info("bm25_rebuilt")
	if buf.Len() != 0 {
		t.Fatalf("info must be dropped at warn level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, " WARNING ": slog.LevelWarn, "error": slog.LevelError, "debug": slog.LevelDebug}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
