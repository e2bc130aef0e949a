package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if filepath.Base(path) != "cli.yaml" || filepath.Base(filepath.Dir(path)) != ".annomesh" {
		t.Errorf("DefaultConfigPath() = %q", path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	cfg := Default()
	cfg.Server = "https://annomesh.example.com"
	cfg.Timeout = 5 * time.Second
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *cfg {
		t.Errorf("Load() = %+v, want %+v", got, cfg)
	}
}

func TestLoad_PartialAndInvalid(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, "partial.yaml")
	if err := os.WriteFile(partial, []byte("output: json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(partial)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output != "json" || cfg.Server != DefaultServer || cfg.Timeout != DefaultTimeout {
		t.Errorf("Load(partial) = %+v", cfg)
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("output: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(broken); err == nil {
		t.Error("Load() accepted malformed yaml")
	}
}

func TestCLIConfig_SetGet(t *testing.T) {
	tests := []struct {
		key, value string
		want       string
		wantErr    bool
	}{
		{"server", "http://10.0.0.5:7480", "http://10.0.0.5:7480", false},
		{"server", "", "", true},
		{"output", "yaml", "yaml", false},
		{"output", "xml", "", true},
		{"timeout", "2s", "2s", false},
		{"timeout", "-1s", "", true},
		{"participant", "ops-bot", "ops-bot", false},
		{"ca_file", "/etc/annomesh/ca.pem", "/etc/annomesh/ca.pem", false},
		{"color", "red", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := Default()
			err := cfg.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got, _ := cfg.Get(tt.key); got != tt.want {
				t.Errorf("Get(%s) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
	if _, err := Default().Get("color"); err == nil {
		t.Error("Get() accepted an unknown key")
	}
}
