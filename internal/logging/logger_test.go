package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"warn", WARN},
		{"error", ERROR},
		{"", INFO},
		{"garbage", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	origLevel := defaultLogger.level
	defer func() { defaultLogger.level = origLevel }()

	SetLevel(DEBUG)
	if defaultLogger.level != DEBUG {
		t.Error("SetLevel did not change level")
	}

	SetLevel(ERROR)
	if defaultLogger.level != ERROR {
		t.Error("SetLevel did not change level")
	}
}

func TestLevelFiltering(t *testing.T) {
	origLevel := defaultLogger.level
	origOutput := defaultLogger.output
	defer func() {
		defaultLogger.level = origLevel
		defaultLogger.output = origOutput
	}()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(WARN)

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warning")
	Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("filtered levels leaked into output: %q", out)
	}
	if !strings.Contains(out, "visible warning") || !strings.Contains(out, "visible error") {
		t.Errorf("expected warn and error lines, got: %q", out)
	}
}

func TestWithFields_StableOrderAndInheritance(t *testing.T) {
	origOutput := defaultLogger.output
	defer func() { defaultLogger.output = origOutput }()

	var buf bytes.Buffer
	SetOutput(&buf)

	log := WithField("component", "test").WithFields(map[string]any{
		"b": 2,
		"a": 1,
	})
	log.Info("fields attached")

	out := buf.String()
	for _, want := range []string{"component=test", "a=1", "b=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
	if strings.Index(out, "a=1") > strings.Index(out, "b=2") {
		t.Errorf("fields not in sorted order: %q", out)
	}
}

func TestWithField_DoesNotMutateParent(t *testing.T) {
	parent := WithField("component", "parent")
	child := parent.WithField("extra", "child")

	if _, ok := parent.fields["extra"]; ok {
		t.Error("child field leaked into parent logger")
	}
	if child.fields["component"] != "parent" {
		t.Error("child logger lost the parent field")
	}
}

func TestFormattedMessages(t *testing.T) {
	origOutput := defaultLogger.output
	defer func() { defaultLogger.output = origOutput }()

	var buf bytes.Buffer
	SetOutput(&buf)

	Info("counted %d of %s", 3, "four")

	if !strings.Contains(buf.String(), "counted 3 of four") {
		t.Errorf("formatting args not applied: %q", buf.String())
	}
}
