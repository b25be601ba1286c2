package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetSink(&buf)
	defer SetLevel(Notice)

	logger := New("test")

	SetLevel(Warning)
	logger.Notice("hidden")
	logger.Warning("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected notice message to be filtered at warning level; got %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "[test]") {
		t.Fatalf("expected warning message tagged with module name; got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	specs := []struct {
		in  string
		exp Level
		err bool
	}{
		{"debug", Debug, false},
		{"INFO", Info, false},
		{"warning", Warning, false},
		{"loud", Notice, true},
	}

	for specIndex, spec := range specs {
		level, err := ParseLevel(spec.in)
		if spec.err {
			if err == nil {
				t.Fatalf("[spec %d] expected an error", specIndex)
			}
			continue
		}
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}
		if level != spec.exp {
			t.Fatalf("[spec %d] expected level %d; got %d", specIndex, spec.exp, level)
		}
	}
}
