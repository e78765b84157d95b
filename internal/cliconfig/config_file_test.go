package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Dir:            "/test/data",
				AppKey:         "key-1",
				BaseInterval:   "5m",
				CPUThreshold:   0.8,
				BatchSize:      20,
				DisableMetrics: &trueVal,
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Dir:            "/test/data",
				AppKey:         "key-1",
				BaseInterval:   5 * time.Minute,
				CPUThreshold:   0.8,
				BatchSize:      20,
				DisableMetrics: true,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Dir:    "/config/data",
				AppKey: "config-key",
			},
			changed: map[string]bool{"dir": true},
			initial: Config{
				Dir:    "/flag/data",
				AppKey: "flag-key",
			},
			expected: Config{
				Dir:    "/flag/data", // unchanged because flag was set
				AppKey: "config-key",
			},
		},
		{
			name: "ignores empty and zero values",
			fileConfig: FileConfig{
				BatchSize:    0,
				CPUThreshold: 0,
			},
			changed:  map[string]bool{},
			initial:  Config{BatchSize: 50, CPUThreshold: 0.85},
			expected: Config{BatchSize: 50, CPUThreshold: 0.85},
		},
		{
			name: "explicit false overrides",
			fileConfig: FileConfig{
				Once: &falseVal,
			},
			changed:  map[string]bool{},
			initial:  Config{Once: true},
			expected: Config{Once: false},
		},
		{
			name: "returns error for invalid duration",
			fileConfig: FileConfig{
				MaxBackoff: "soon",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}

			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
dir = "/tmp/data"
service_url = "https://collector.example.com"
base_interval = "5m"
cpu_threshold = 0.8
batch_size = 25
no_inbox = true
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Dir != "/tmp/data" {
		t.Errorf("Dir = %v, want /tmp/data", fc.Dir)
	}
	if fc.ServiceURL != "https://collector.example.com" {
		t.Errorf("ServiceURL = %v", fc.ServiceURL)
	}
	if fc.BaseInterval != "5m" {
		t.Errorf("BaseInterval = %v, want 5m", fc.BaseInterval)
	}
	if fc.CPUThreshold != 0.8 {
		t.Errorf("CPUThreshold = %v, want 0.8", fc.CPUThreshold)
	}
	if fc.BatchSize != 25 {
		t.Errorf("BatchSize = %v, want 25", fc.BatchSize)
	}
	if fc.NoInbox == nil || *fc.NoInbox != true {
		t.Errorf("NoInbox = %v, want true", fc.NoInbox)
	}
}

func TestLoadFileConfig_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
dir: /tmp/data
app_version: "2.0.1"
retention_high_mb: 128
disable_crash_reporting: true
http_timeout: 10s
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Dir != "/tmp/data" {
		t.Errorf("Dir = %v, want /tmp/data", fc.Dir)
	}
	if fc.AppVersion != "2.0.1" {
		t.Errorf("AppVersion = %v, want 2.0.1", fc.AppVersion)
	}
	if fc.RetentionHighMB != 128 {
		t.Errorf("RetentionHighMB = %v, want 128", fc.RetentionHighMB)
	}
	if fc.DisableCrashReporting == nil || !*fc.DisableCrashReporting {
		t.Errorf("DisableCrashReporting = %v, want true", fc.DisableCrashReporting)
	}
	if fc.HTTPTimeout != "10s" {
		t.Errorf("HTTPTimeout = %v, want 10s", fc.HTTPTimeout)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
dir = "/test"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestLoadFileConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yml")

	if err := os.WriteFile(configPath, []byte("dir: [unclosed\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid YAML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	// Should return a path containing .predem
	if path != "" && !strings.Contains(path, ".predem") {
		t.Errorf("DefaultConfigPath() = %v, should contain .predem", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
