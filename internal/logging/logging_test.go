package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func messages(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		msg, _ := entry["msg"].(string)
		out = append(out, msg)
	}
	return out
}

func TestLevels(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{level: "debug", want: []string{"debug line", "info line", "warn line", "error line"}},
		{level: "info", want: []string{"info line", "warn line", "error line"}},
		{level: "warn", want: []string{"warn line", "error line"}},
		{level: "error", want: []string{"error line"}},
		{level: "bogus", want: []string{"info line", "warn line", "error line"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(tt.level, &buf)
			log.Debug("debug line")
			log.Info("info line")
			log.Warn("warn line")
			log.Error("error line")
			_ = log.Sync()

			if diff := cmp.Diff(tt.want, messages(t, &buf)); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	child := log.With("component", "test")

	child.Debug("hidden")
	log.SetLevel("debug")
	child.Debug("visible")
	_ = log.Sync()

	if diff := cmp.Diff([]string{"visible"}, messages(t, &buf)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	log.Info("published item", "platform", "chat", "bot", "news")
	_ = log.Sync()

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := map[string]any{"msg": entry["msg"], "platform": entry["platform"], "bot": entry["bot"]}
	want := map[string]any{"msg": "published item", "platform": "chat", "bot": "news"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}
