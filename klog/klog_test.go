package klog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Warn)
	l.Infof("should not appear")
	l.Warnf("should appear: %d", 42)

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("info-level filtered log leaked through: %q", out)
	}
	if !strings.Contains(out, "should appear: 42") {
		t.Fatalf("expected warn line in output, got %q", out)
	}
	if !strings.Contains(out, "[WARN]") {
		t.Fatalf("expected level prefix, got %q", out)
	}
}

func TestAllLevelsPassAtDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Debug)
	l.Debugf("d")
	l.Infof("i")
	l.Warnf("w")
	l.Errorf("e")
	out := buf.String()
	for _, want := range []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}
