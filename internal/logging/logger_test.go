package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Warn, Text, &buf)

	log.Debug("hidden")
	log.Info("also hidden")
	log.Warn("visible")
	log.Error("also visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("suppressed levels leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] visible") || !strings.Contains(out, "[ERROR] also visible") {
		t.Fatalf("expected warn and error lines, got %q", out)
	}
}

func TestTextFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Info, Text, &buf)

	log.Info("tuned", Field{Key: "channel", Value: 1}, Field{Key: "freqHz", Value: 7100000})

	out := buf.String()
	if !strings.Contains(out, "channel=1") || !strings.Contains(out, "freqHz=7100000") {
		t.Fatalf("fields missing from %q", out)
	}
}

func TestWithAccumulatesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Info, Text, &buf).With(Field{Key: "subsystem", Value: "control"})

	log.Info("connected")

	if !strings.Contains(buf.String(), "subsystem=control") {
		t.Fatalf("inherited field missing from %q", buf.String())
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Info, JSON, &buf)

	log.Info("streaming", Field{Key: "dropped", Value: 3})

	line := buf.String()
	start := strings.IndexByte(line, '{')
	if start < 0 {
		t.Fatalf("no JSON object in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line[start:])), &payload); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if payload["level"] != "INFO" || payload["msg"] != "streaming" {
		t.Fatalf("payload = %v", payload)
	}
	if payload["dropped"] != float64(3) {
		t.Fatalf("field dropped = %v", payload["dropped"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", Debug, false},
		{"", Info, false},
		{"WARNING", Warn, false},
		{" error ", Error, false},
		{"loud", Level(0), true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, %v", tc.in, got, err)
		}
	}
}
