package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		conf Config
		want zerolog.Level
	}{
		{name: "default", conf: Config{}, want: zerolog.InfoLevel},
		{name: "debug flag", conf: Config{Debug: true}, want: zerolog.DebugLevel},
		{name: "explicit level wins", conf: Config{Debug: true, Level: "WARN"}, want: zerolog.WarnLevel},
		{name: "unknown level falls back", conf: Config{Level: "loud"}, want: zerolog.InfoLevel},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := levelOf(&tc.conf); got != tc.want {
				t.Fatalf("levelOf() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestBuildWritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := build(&buf, &Config{Caller: true})
	logger.Debug().Msg("hidden")
	logger.Info().Str("session_id", "s-1").Msg("turn completed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if event["message"] != "turn completed" || event["session_id"] != "s-1" {
		t.Fatalf("unexpected event: %v", event)
	}
	if _, ok := event["caller"]; !ok {
		t.Fatalf("expected caller field: %v", event)
	}
}
