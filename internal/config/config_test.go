package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"512MB", 512 << 20, false},
		{"1GB", 1 << 30, false},
		{"64KB", 64 << 10, false},
		{"100B", 100, false},
		{"100", 100, false},
		{" 2 GB ", 2 << 30, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSize(%q) expected error, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q) error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no seriesd.toml is picked up
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(oldWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8100 {
		t.Errorf("Server.Port = %d, want 8100", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend = %q, want local", cfg.Storage.Backend)
	}
	if cfg.Cache.MaxSizeMB != 512 {
		t.Errorf("Cache.MaxSizeMB = %d, want 512", cfg.Cache.MaxSizeMB)
	}
	if len(cfg.Cache.WarnThresholds) != 4 {
		t.Errorf("Cache.WarnThresholds = %v, want 4 entries", cfg.Cache.WarnThresholds)
	}
	if cfg.Import.TieBreak != "filename-desc" {
		t.Errorf("Import.TieBreak = %q, want filename-desc", cfg.Import.TieBreak)
	}
	if cfg.Persist.Enabled {
		t.Error("Persist.Enabled should default to false")
	}
}

func TestLoadConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
[server]
port = 9000

[cache]
max_size_mb = 128

[import]
tie_break = "import-order"
`
	if err := os.WriteFile(filepath.Join(tmpDir, "seriesd.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(oldWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Cache.MaxSizeMB != 128 {
		t.Errorf("Cache.MaxSizeMB = %d, want 128", cfg.Cache.MaxSizeMB)
	}
	if cfg.Import.TieBreak != "import-order" {
		t.Errorf("Import.TieBreak = %q, want import-order", cfg.Import.TieBreak)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: "ftp"},
		Cache:   CacheConfig{MaxSizeMB: 512},
		Import:  ImportConfig{TieBreak: "filename-desc"},
	}
	if err := cfg.validate(); err == nil {
		t.Error("expected error for unknown storage backend")
	}

	cfg.Storage.Backend = "local"
	cfg.Cache.MaxSizeMB = 0
	if err := cfg.validate(); err == nil {
		t.Error("expected error for zero cache size")
	}

	cfg.Cache.MaxSizeMB = 512
	cfg.Cache.WarnThresholds = []int{50, 150}
	if err := cfg.validate(); err == nil {
		t.Error("expected error for out-of-range threshold")
	}

	cfg.Cache.WarnThresholds = nil
	cfg.Import.TieBreak = "coin-flip"
	if err := cfg.validate(); err == nil {
		t.Error("expected error for unknown tie break")
	}
}
