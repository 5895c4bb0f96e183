package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestCLILogLevel(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, LogInfo)

	c.Logger.Debug("cache hit", "key", "abc")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}

	c.SetLogLevel(LogDebug)
	c.Logger.Debug("cache hit", "key", "abc")
	if !strings.Contains(buf.String(), "cache hit") || !strings.Contains(buf.String(), "key=abc") {
		t.Errorf("debug output = %q", buf.String())
	}
}

func TestLoggerTimestampFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, log.InfoLevel).Info("resolved")

	if !regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{2} `).MatchString(buf.String()) {
		t.Errorf("output %q should start with an HH:MM:SS.ms timestamp", buf.String())
	}
}

func TestRootAttachesLogger(t *testing.T) {
	_, _ = isolate(t)
	var buf bytes.Buffer
	c := New(&buf, LogInfo)

	leaf := runRoot(t, c)

	if got := loggerFromContext(leaf.Context()); got != c.Logger {
		t.Error("commands should see the CLI logger through their context")
	}
}

func TestRootLogsSettingsFileAtDebug(t *testing.T) {
	configHome, _ := isolate(t)
	dir := filepath.Join(configHome, appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("concurrency = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var info, debug bytes.Buffer
	runRoot(t, New(&info, LogInfo))
	runRoot(t, New(&debug, LogDebug))

	if strings.Contains(info.String(), "settings loaded") {
		t.Errorf("info output = %q, want nothing", info.String())
	}
	if !strings.Contains(debug.String(), "settings loaded") || !strings.Contains(debug.String(), "config.toml") {
		t.Errorf("debug output = %q, want the settings file", debug.String())
	}
}

func TestProgressReportsElapsed(t *testing.T) {
	var buf bytes.Buffer
	prog := newProgress(newLogger(&buf, log.InfoLevel))
	time.Sleep(5 * time.Millisecond)

	prog.done("Resolved 2 libraries")

	if !regexp.MustCompile(`Resolved 2 libraries \(\d+(\.\d+)?m?s\)`).MatchString(buf.String()) {
		t.Errorf("output = %q, want message with elapsed duration", buf.String())
	}
}

func TestLoggerFromContextDefault(t *testing.T) {
	if loggerFromContext(context.Background()) != log.Default() {
		t.Error("loggerFromContext should fall back to log.Default()")
	}
}
