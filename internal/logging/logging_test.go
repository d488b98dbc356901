package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, "debug", "json")

	logger.Debug("probe stored", "path", "/tmp/probe.jpg")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "probe stored" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["path"] != "/tmp/probe.jpg" {
		t.Errorf("unexpected path attr: %v", entry["path"])
	}
}

func TestSetupWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
