package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/node-upgrader/internal/build"
	"github.com/oshokin/node-upgrader/internal/git"
	"github.com/oshokin/node-upgrader/internal/source"
	"github.com/oshokin/node-upgrader/internal/supervisor"
)

// Config tunes the upgrade pipeline.
type Config struct {
	// Remote is the git remote fetched for new tags.
	Remote string `yaml:"remote"`
	// BuildTarget is the make target producing the node binary.
	BuildTarget string `yaml:"build_target"`
	// BinaryPath is where the build leaves the binary, relative to the source tree.
	BinaryPath string `yaml:"binary_path"`
	// PatchMarker selects the source file that receives the patch.
	PatchMarker string `yaml:"patch_marker"`
	// Supervisorctl is the supervisorctl executable.
	Supervisorctl string `yaml:"supervisorctl"`
	// SupervisordConfig is passed to supervisorctl -c when set.
	SupervisordConfig string `yaml:"supervisord_config"`
	// UseSudo runs supervisorctl through sudo.
	UseSudo *bool `yaml:"use_sudo"`
	// StatusDelay is waited after a reload before status is reported.
	// An explicit zero reports right away.
	StatusDelay *time.Duration `yaml:"status_delay"`
	// JournalFile keeps the outcome of the last run; empty disables it.
	JournalFile string `yaml:"journal_file"`
	// LockFile is the run marker; empty puts it next to the supervisor config.
	LockFile string `yaml:"lock_file"`
	// Timeouts bound the external commands.
	Timeouts Timeouts `yaml:"timeouts"`
}

// Timeouts bound the external commands of one run.
type Timeouts struct {
	// Fetch bounds git fetch.
	Fetch time.Duration `yaml:"fetch"`
	// Checkout bounds local git commands.
	Checkout time.Duration `yaml:"checkout"`
	// Build bounds the build tool.
	Build time.Duration `yaml:"build"`
	// Supervisor bounds each supervisorctl call.
	Supervisor time.Duration `yaml:"supervisor"`
}

const (
	// DefaultFetchTimeout bounds git fetch.
	DefaultFetchTimeout = 5 * time.Minute
	// DefaultCheckoutTimeout bounds local git commands.
	DefaultCheckoutTimeout = 2 * time.Minute
	// DefaultBuildTimeout bounds a full node build.
	DefaultBuildTimeout = time.Hour
	// DefaultSupervisorTimeout bounds each supervisorctl call.
	DefaultSupervisorTimeout = time.Minute

	// DefaultFilePermissions is the mode of saved settings files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNegativeDuration is returned for durations below zero.
	errNegativeDuration = errors.New("duration must not be negative")
	// errAbsoluteBinaryPath is returned when binary_path escapes the source tree.
	errAbsoluteBinaryPath = errors.New("binary_path must be relative to the source tree")
	// ErrSettingsExist is returned by Init when the target file is already there.
	ErrSettingsExist = errors.New("settings file already exists")
)

// Default returns the settings used when no file is given.
func Default() *Config {
	cfg := new(Config)
	applyDefaults(cfg)

	return cfg
}

// Load reads settings from path. An empty path yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Init writes the default settings to path, refusing to replace an existing file.
func Init(path string) error {
	path = filepath.Clean(path)

	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrSettingsExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat settings: %w", err)
	}

	return Save(path, Default())
}

// Validate checks the settings and fills unset fields with defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.StatusDelay != nil && *cfg.StatusDelay < 0 {
		return fmt.Errorf("status_delay: %w", errNegativeDuration)
	}

	for name, d := range map[string]time.Duration{
		"timeouts.fetch":      cfg.Timeouts.Fetch,
		"timeouts.checkout":   cfg.Timeouts.Checkout,
		"timeouts.build":      cfg.Timeouts.Build,
		"timeouts.supervisor": cfg.Timeouts.Supervisor,
	} {
		if d < 0 {
			return fmt.Errorf("%s: %w", name, errNegativeDuration)
		}
	}

	if cfg.BinaryPath != "" && filepath.IsAbs(cfg.BinaryPath) {
		return fmt.Errorf("%s: %w", cfg.BinaryPath, errAbsoluteBinaryPath)
	}

	applyDefaults(cfg)

	return nil
}

// SudoEnabled reports whether supervisorctl runs through sudo.
func (c *Config) SudoEnabled() bool {
	return c.UseSudo == nil || *c.UseSudo
}

// ReportDelay returns how long to wait after a reload before reading status.
func (c *Config) ReportDelay() time.Duration {
	if c.StatusDelay == nil {
		return supervisor.DefaultStatusDelay
	}

	return *c.StatusDelay
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Remote, git.DefaultRemote)
	setDefault(&cfg.BuildTarget, build.DefaultTarget)
	setDefault(&cfg.BinaryPath, build.DefaultBinaryPath)
	setDefault(&cfg.PatchMarker, source.DefaultMarker)
	setDefault(&cfg.Supervisorctl, supervisor.DefaultCtl)

	if cfg.UseSudo == nil {
		useSudo := true
		cfg.UseSudo = &useSudo
	}

	if cfg.StatusDelay == nil {
		delay := supervisor.DefaultStatusDelay
		cfg.StatusDelay = &delay
	}

	setDefaultDuration(&cfg.Timeouts.Fetch, DefaultFetchTimeout)
	setDefaultDuration(&cfg.Timeouts.Checkout, DefaultCheckoutTimeout)
	setDefaultDuration(&cfg.Timeouts.Build, DefaultBuildTimeout)
	setDefaultDuration(&cfg.Timeouts.Supervisor, DefaultSupervisorTimeout)
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDefaultDuration(field *time.Duration, value time.Duration) {
	if *field == 0 {
		*field = value
	}
}
