package config

import (
	"os"
	"path/filepath"
	"testing"
)

const referenceConfig = `
observatory: apo
hemisphere: n
path_template: "/data/{observatory}/{hemisphere}/{controller}-{exposure_no}.fits"
counter_path: /var/lib/archond/counter
controllers:
  - name: sp1
    host: 10.0.0.1
    port: 4242
    acf_path: /etc/archond/sp1.acf
    backplane: "X12"
    detectors:
      - name: b1
        tap: A
        area: {x0: 0, y0: 0, x1: 100, y1: 100}
    gain:
      A: 1.9
    readnoise:
      A: 3.5
log:
  level: info
  format: json
`

func writeTempConfig(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "archond.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadParsesControllersAndDetectors(t *testing.T) {
	path := writeTempConfig(t, referenceConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Controllers) != 1 {
		t.Fatalf("expected 1 controller, got %d", len(cfg.Controllers))
	}
	ctrl := cfg.Controllers[0]
	if ctrl.Name != "sp1" || ctrl.Host != "10.0.0.1" || ctrl.Port != 4242 {
		t.Fatalf("unexpected controller: %+v", ctrl)
	}
	if len(ctrl.Detectors) != 1 || ctrl.Detectors[0].Tap != "A" {
		t.Fatalf("unexpected detectors: %+v", ctrl.Detectors)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("expected json log format, got %q", cfg.Log.Format)
	}
}

func TestLoadRejectsMissingControllers(t *testing.T) {
	path := writeTempConfig(t, "path_template: \"/x\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for config with no controllers")
	}
}

func TestLoadRejectsDuplicateControllerNames(t *testing.T) {
	text := `
path_template: "/x"
controllers:
  - name: sp1
    host: a
    port: 1
  - name: sp1
    host: b
    port: 2
`
	path := writeTempConfig(t, text)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for duplicate controller names")
	}
}

func TestNewWatcherLoadsCurrentConfig(t *testing.T) {
	path := writeTempConfig(t, referenceConfig)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Current().Observatory != "apo" {
		t.Fatalf("unexpected observatory: %q", w.Current().Observatory)
	}
}
