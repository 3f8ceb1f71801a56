package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLoggerJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := InitLogger("debug", "json", &buf)
	NewComponentLogger(base, "queue").Debug("queue_ready", slog.Int("capacity", 50))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["component"] != "queue" || line["msg"] != "queue_ready" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestInitLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("warn", "text", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestClip(t *testing.T) {
	if got := Clip("héllo world", 5); got != "héllo..." {
		t.Fatalf("unexpected clip %q", got)
	}
	if got := Clip("short", 10); got != "short" {
		t.Fatalf("unexpected clip %q", got)
	}
}
