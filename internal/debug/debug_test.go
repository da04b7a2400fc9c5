package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShouldEnableFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		path    string
		want    bool
	}{
		{name: "disabled by default", enabled: "", path: "", want: false},
		{name: "enabled explicit", enabled: "1", path: "", want: true},
		{name: "enabled via path", enabled: "", path: "/tmp/seam.log", want: true},
		{name: "explicit off wins", enabled: "0", path: "/tmp/seam.log", want: false},
		{name: "unknown toggle without path", enabled: "maybe", path: "", want: false},
		{name: "unknown toggle with path", enabled: "maybe", path: "/tmp/seam.log", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnabled, tt.enabled)
			t.Setenv(EnvLogPath, tt.path)
			if got := ShouldEnableFromEnv(); got != tt.want {
				t.Fatalf("ShouldEnableFromEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitInheritedPathAndProcessMetadata(t *testing.T) {
	defer Close()

	logPath := filepath.Join(t.TempDir(), "aggregate.log")
	if err := os.WriteFile(logPath, []byte("existing\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(EnvLogPath, logPath)
	t.Setenv(EnvProcess, "hub:51")

	gotPath, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if gotPath != logPath {
		t.Fatalf("Init() path = %q, want %q", gotPath, logPath)
	}

	LogKV("test", "hello", "k", "v")
	Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "existing\n") {
		t.Fatalf("expected existing file content to remain at beginning, got %q", s)
	}
	if !strings.Contains(s, "=== SEAM DEBUG PROCESS ATTACHED ===") {
		t.Fatalf("missing attach header: %q", s)
	}
	if !strings.Contains(s, "Process: hub:51") {
		t.Fatalf("missing process label in header: %q", s)
	}
	if !strings.Contains(s, "[test") || !strings.Contains(s, "hello k=v") {
		t.Fatalf("missing emitted debug line: %q", s)
	}
	if !strings.Contains(s, "=== DEBUG LOG CLOSED ===") {
		t.Fatalf("missing close marker: %q", s)
	}
}

func TestLogIsNoOpWhenDisabled(t *testing.T) {
	Close()
	if Enabled() {
		t.Fatal("logger should be disabled")
	}
	Log("test", "goes nowhere")
	Logf("test", "goes %s", "nowhere")
	LogKV("test", "goes nowhere", "k", "v")
	if Path() != "" {
		t.Fatalf("Path() = %q, want empty", Path())
	}
}
