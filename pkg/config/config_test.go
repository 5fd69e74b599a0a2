package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSPort != 8000 || cfg.TickPeriodMS != 100 || cfg.ControlTickDivisor != 10 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.BufferMax != 5000 || cfg.PerSubscriberQueueMax != 256 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.ListenAddr() != "0.0.0.0:8000" {
		t.Fatalf("addr = %s", cfg.ListenAddr())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	if err := os.WriteFile(path, []byte("ws_port: 9100\nbuffer_max: 42\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WS_PORT", "9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSPort != 9200 {
		t.Fatalf("env should win: port = %d", cfg.WSPort)
	}
	if cfg.BufferMax != 42 {
		t.Fatalf("file overlay lost: buffer_max = %d", cfg.BufferMax)
	}
}

func TestLoad_RejectsUnknownFileKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	if err := os.WriteFile(path, []byte("nope: 1\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); !errors.Is(err, ErrBadFile) {
		t.Fatalf("err = %v, want ErrBadFile", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"WS_PORT":              "70000",
		"TICK_PERIOD_MS":       "0",
		"CONTROL_TICK_DIVISOR": "-1",
		"MAX_FRAME_BYTES":      "12",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidate_Archive(t *testing.T) {
	cfg := Default()
	cfg.ArchiveDriver = "sqlite3"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatal("driver without dsn must fail")
	}
	cfg.ArchiveDSN = "file:events.db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.ArchiveDriver = "oracle"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatal("unknown driver must fail")
	}
}

func TestGetenvInt_BadValueFallsBack(t *testing.T) {
	t.Setenv("BUFFER_MAX", "many")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BufferMax != 5000 {
		t.Fatalf("buffer_max = %d", cfg.BufferMax)
	}
}
