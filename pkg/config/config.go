package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/containers/storage/pkg/idtools"
	"github.com/sirupsen/logrus"

	"github.com/cri-o/nspin/internal/config/nsmgr"
)

// Defaults if none are specified
const (
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	defaultVersionFile  = "/var/lib/nspin/version"
	logFormatJSON       = "json"
	idMappingsSeparator = ","
)

// DefaultConfigPath is the path the CLI reads its configuration from if
// no other file is given.
const DefaultConfigPath = "/etc/nspin/nspin.conf"

// Config represents the entire set of configuration values that can be set
// for nspin.
type Config struct {
	RootConfig
}

// RootConfig represents the root of the "nspin" TOML config table.
type RootConfig struct {
	// NamespacesDir is the directory pod namespaces are pinned below.
	NamespacesDir string `toml:"namespaces_dir"`

	// VersionFile is the location nspin will write its version information
	// to. A major or minor version change wipes the pinned namespaces.
	VersionFile string `toml:"version_file"`

	// LogLevel determines the verbosity of the logs based on the level it is set to.
	// Options are fatal, panic, error (default), warn, info, debug, and trace.
	LogLevel string `toml:"log_level"`

	// LogFormat is the format of the log output, either text or json.
	LogFormat string `toml:"log_format"`

	// LogFilter specifies a regular expression to filter the log messages
	LogFilter string `toml:"log_filter"`

	// UIDMappings specifies the UID mappings of new user namespaces as
	// comma separated "container:host:size" triples.
	UIDMappings string `toml:"uid_mappings"`

	// GIDMappings specifies the GID mappings of new user namespaces as
	// comma separated "container:host:size" triples.
	GIDMappings string `toml:"gid_mappings"`

	// DefaultSysctls are the "key=value" sysctls applied to every new
	// namespace owning them.
	DefaultSysctls []string `toml:"default_sysctls"`

	// MetricsTextfile is the file pin metrics get written to after every
	// command, in the format of the node exporter textfile collector.
	MetricsTextfile string `toml:"metrics_textfile"`
}

// tomlConfig is another way of looking at a Config, which is
// TOML-friendly (it has all of the explicit tables). It's just used for
// conversions.
type tomlConfig struct {
	Nspin struct {
		RootConfig
	} `toml:"nspin"`
}

func (t *tomlConfig) toConfig(c *Config) {
	c.RootConfig = t.Nspin.RootConfig
}

func (t *tomlConfig) fromConfig(c *Config) {
	t.Nspin.RootConfig = c.RootConfig
}

// DefaultConfig returns the default configuration for nspin.
func DefaultConfig() (*Config, error) {
	return &Config{
		RootConfig: RootConfig{
			NamespacesDir:  nsmgr.DefaultNamespacesDir,
			VersionFile:    defaultVersionFile,
			LogLevel:       DefaultLogLevel,
			LogFormat:      DefaultLogFormat,
			DefaultSysctls: []string{},
		},
	}, nil
}

// UpdateFromFile populates the Config from the TOML-encoded file at the given path.
// Returns errors encountered when reading or parsing the files, or nil
// otherwise.
func (c *Config) UpdateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	t := new(tomlConfig)
	t.fromConfig(c)

	if _, err := toml.Decode(string(data), t); err != nil {
		return fmt.Errorf("unable to decode configuration %v: %w", path, err)
	}

	t.toConfig(c)
	return nil
}

// ToFile outputs the given Config as a TOML-encoded file at the given path.
// Returns errors encountered when generating or writing the file, or nil
// otherwise.
func (c *Config) ToFile(path string) error {
	b, err := c.ToBytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ToBytes encodes the config as TOML.
func (c *Config) ToBytes() ([]byte, error) {
	var w bytes.Buffer
	e := toml.NewEncoder(&w)

	t := new(tomlConfig)
	t.fromConfig(c)

	if err := e.Encode(*t); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Validate is the main entry point for configuration validation.
// It returns an error on validation failure, otherwise nil.
func (c *RootConfig) Validate() error {
	if c.NamespacesDir == "" {
		return errors.New("namespaces_dir must not be empty")
	}
	if !filepath.IsAbs(c.NamespacesDir) {
		return fmt.Errorf("namespaces_dir %s must be an absolute path", c.NamespacesDir)
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.LogFormat != DefaultLogFormat && c.LogFormat != logFormatJSON {
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}

	if _, err := c.IDMappings(); err != nil {
		return fmt.Errorf("invalid id mappings: %w", err)
	}

	sysctls, err := c.Sysctls()
	if err != nil {
		return fmt.Errorf("invalid default_sysctls: %w", err)
	}
	for _, sysctl := range sysctls {
		if err := sysctl.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IDMappings parses the configured mappings. It returns nil if either of
// them is unset.
func (c *RootConfig) IDMappings() (*idtools.IDMappings, error) {
	if c.UIDMappings == "" || c.GIDMappings == "" {
		if c.UIDMappings != c.GIDMappings {
			return nil, errors.New("uid_mappings and gid_mappings must be set together")
		}
		return nil, nil
	}

	parsedUIDsMappings, err := idtools.ParseIDMap(strings.Split(c.UIDMappings, idMappingsSeparator), "UID")
	if err != nil {
		return nil, err
	}
	parsedGIDsMappings, err := idtools.ParseIDMap(strings.Split(c.GIDMappings, idMappingsSeparator), "GID")
	if err != nil {
		return nil, err
	}

	return idtools.NewIDMappingsFromMaps(parsedUIDsMappings, parsedGIDsMappings), nil
}
