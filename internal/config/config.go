// Package config loads the daemon's YAML configuration: the set of
// Archon controllers to drive, their ACF paths, the FITS path template,
// and the exposure-counter directory. It mirrors the shape of
// cmd/lepton/main.go's JSON Config struct, loaded instead with
// gopkg.in/yaml.v3, and adds a file-watch based hot-reload using
// github.com/fsnotify/fsnotify.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sdss/archond/internal/archonerr"
)

// Controller describes one Archon controller entry in the daemon config.
type Controller struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ACFPath string `yaml:"acf_path"`

	Backplane string             `yaml:"backplane"`
	Detectors []DetectorConfig   `yaml:"detectors"`
	Gain      map[string]float64 `yaml:"gain"`
	Readnoise map[string]float64 `yaml:"readnoise"`
}

// DetectorConfig describes one physical sensor fed by a controller.
type DetectorConfig struct {
	Name string `yaml:"name"`
	Tap  string `yaml:"tap"`
	Area struct {
		X0 int `yaml:"x0"`
		Y0 int `yaml:"y0"`
		X1 int `yaml:"x1"`
		Y1 int `yaml:"y1"`
	} `yaml:"area"`
}

// Config is the root daemon configuration document.
type Config struct {
	Observatory string `yaml:"observatory"`
	Hemisphere  string `yaml:"hemisphere"`

	Controllers []Controller `yaml:"controllers"`

	PathTemplate string   `yaml:"path_template"`
	CounterPath  string   `yaml:"counter_path"`
	LockfileDirs []string `yaml:"lockfile_dirs"`
	FITSWorkers  int      `yaml:"fits_workers"`

	DebugUIAddr      string `yaml:"debug_ui_addr"`
	DebugUIStaticDir string `yaml:"debug_ui_static_dir"`

	EnvSensor struct {
		Enabled bool   `yaml:"enabled"`
		I2CBus  string `yaml:"i2c_bus"`
		I2CAddr uint16 `yaml:"i2c_addr"`
	} `yaml:"env_sensor"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Path   string `yaml:"path"`
	} `yaml:"log"`
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, archonerr.Wrap(archonerr.Config, "", fmt.Sprintf("config: read %s failed", path), err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, archonerr.Wrap(archonerr.Config, "", fmt.Sprintf("config: parse %s failed", path), err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Controllers) == 0 {
		return archonerr.New(archonerr.Config, "", "config: at least one controller must be configured")
	}
	if c.PathTemplate == "" {
		return archonerr.New(archonerr.Config, "", "config: path_template is required")
	}
	seen := map[string]bool{}
	for _, ctrl := range c.Controllers {
		if ctrl.Name == "" {
			return archonerr.New(archonerr.Config, "", "config: controller entry missing name")
		}
		if seen[ctrl.Name] {
			return archonerr.New(archonerr.Config, ctrl.Name, "config: duplicate controller name")
		}
		seen[ctrl.Name] = true
	}
	return nil
}

// Watcher reloads Config from path whenever the file changes on disk,
// grounded on cmd/lepton/watch_linux.go's fsnotify loop (adapted from a
// binary self-watch to a config-file watch).
type Watcher struct {
	path string

	mu      sync.RWMutex
	current *Config
}

// NewWatcher loads path once and returns a Watcher ready to serve Current
// and, once Run is started, hot-reload on changes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, current: cfg}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
