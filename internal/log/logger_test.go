// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GetLevel()
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prev)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   LogLevel
		wantOK bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{" warning ", LevelWarn, true},
		{"Error", LevelError, true},
		{"fatal", LevelFatal, true},
		{"loud", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelWarn)

	Debugf("hidden %d", 1)
	Infof("hidden %d", 2)
	Warnf("shown %d", 3)
	Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below WARN leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN]  shown 3") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] shown 4") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestWithPrefix(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelDebug)

	WithPrefix("Pipeline").Debugf("tick %d", 7)

	if !strings.Contains(buf.String(), "[DEBUG] Pipeline: tick 7") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
