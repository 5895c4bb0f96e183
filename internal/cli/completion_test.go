package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
)

func complete(t *testing.T, args ...string) string {
	t.Helper()
	_, _ = isolate(t)
	root := New(os.Stderr, LogInfo).RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"__complete"}, args...))
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("__complete error: %v", err)
	}
	return out.String()
}

func TestCompleteSettingsFlags(t *testing.T) {
	tests := []struct {
		flag      string
		want      []string
		directive string
	}{
		{"--checksum-policy", []string{"warn\t", "ignore\t", "strict\t"}, ":4"},
		{"--transitive-fallback", []string{"abort\t", "direct-only\t"}, ":4"},
		{"--repository", []string{"central\t", "jitpack\t", "local\t"}, ":0"},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			out := complete(t, "resolve", tt.flag, "")
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("completions %q missing %q", out, w)
				}
			}
			if !strings.Contains(out, tt.directive+"\n") {
				t.Errorf("completions %q, want directive %s", out, tt.directive)
			}
		})
	}
}

func TestCompletionScripts(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			_, _ = isolate(t)
			root := New(os.Stderr, LogInfo).RootCommand()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs([]string{"completion", shell})
			if err := root.ExecuteContext(context.Background()); err != nil {
				t.Fatalf("completion %s error: %v", shell, err)
			}
			if !strings.Contains(out.String(), "libby") {
				t.Errorf("%s script does not mention libby", shell)
			}
		})
	}
}
