package nspincli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cri-o/nspin/pkg/config"
)

// DefaultCommands are the commands every nspin binary offers.
var DefaultCommands = []*cli.Command{
	ConfigCommand,
	VersionCommand,
}

func GetConfigFromContext(c *cli.Context) (*config.Config, error) {
	cfg, ok := c.App.Metadata["config"].(*config.Config)
	if !ok {
		return nil, errors.New("type assertion error when accessing nspin config")
	}
	return cfg, nil
}

func GetAndMergeConfigFromContext(c *cli.Context) (*config.Config, error) {
	cfg, err := GetConfigFromContext(c)
	if err != nil {
		return nil, err
	}
	if err := mergeConfig(cfg, c); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeConfig(cfg *config.Config, ctx *cli.Context) error {
	// Don't parse the config if the user explicitly set it to "".
	path := ctx.String("config")
	if path != "" {
		if err := cfg.UpdateFromFile(path); err != nil {
			if ctx.IsSet("config") || !os.IsNotExist(err) {
				return err
			}
		}
	}

	// Override options set with the CLI.
	if ctx.IsSet("namespaces-dir") {
		cfg.NamespacesDir = ctx.String("namespaces-dir")
	}
	if ctx.IsSet("version-file") {
		cfg.VersionFile = ctx.String("version-file")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("log-format") {
		cfg.LogFormat = ctx.String("log-format")
	}
	if ctx.IsSet("log-filter") {
		cfg.LogFilter = ctx.String("log-filter")
	}
	if ctx.IsSet("uid-mappings") {
		cfg.UIDMappings = ctx.String("uid-mappings")
	}
	if ctx.IsSet("gid-mappings") {
		cfg.GIDMappings = ctx.String("gid-mappings")
	}
	if ctx.IsSet("default-sysctls") {
		cfg.DefaultSysctls = StringSliceTrySplit(ctx, "default-sysctls")
	}
	if ctx.IsSet("metrics-textfile") {
		cfg.MetricsTextfile = ctx.String("metrics-textfile")
	}

	return cfg.Validate()
}

func GetFlagsAndMetadata() ([]cli.Flag, map[string]interface{}, error) {
	cfg, err := config.DefaultConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading nspin config: %w", err)
	}

	flags := getNspinFlags(cfg)

	metadata := map[string]interface{}{
		"config": cfg,
	}
	return flags, metadata, nil
}

func getNspinFlags(defConf *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:      "config",
			Aliases:   []string{"c"},
			Value:     config.DefaultConfigPath,
			Usage:     "Path to configuration file",
			EnvVars:   []string{"NSPIN_CONFIG"},
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:      "namespaces-dir",
			Usage:     "The directory pod namespaces are pinned below.",
			Value:     defConf.NamespacesDir,
			EnvVars:   []string{"NSPIN_NAMESPACES_DIR"},
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:      "version-file",
			Usage:     "Location for nspin to lay down the version file. A major or minor version change wipes the pinned namespaces.",
			Value:     defConf.VersionFile,
			EnvVars:   []string{"NSPIN_VERSION_FILE"},
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:      "log",
			Usage:     "Set the log file path where internal debug information is written.",
			EnvVars:   []string{"NSPIN_LOG"},
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   defConf.LogFormat,
			Usage:   "Set the format used by logs: 'text' or 'json'.",
			EnvVars: []string{"NSPIN_LOG_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Value:   defConf.LogLevel,
			Usage:   "Log messages above specified level: trace, debug, info, warn, error, fatal or panic.",
			EnvVars: []string{"NSPIN_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-filter",
			Usage:   `Filter the log messages by the provided regular expression. For example 'Pinned.\*' keeps the messages about pinned namespaces.`,
			EnvVars: []string{"NSPIN_LOG_FILTER"},
		},
		&cli.StringFlag{
			Name:    "uid-mappings",
			Usage:   "Specify the UID mappings of new user namespaces, as comma separated 'container:host:size' triples.",
			Value:   defConf.UIDMappings,
			EnvVars: []string{"NSPIN_UID_MAPPINGS"},
		},
		&cli.StringFlag{
			Name:    "gid-mappings",
			Usage:   "Specify the GID mappings of new user namespaces, as comma separated 'container:host:size' triples.",
			Value:   defConf.GIDMappings,
			EnvVars: []string{"NSPIN_GID_MAPPINGS"},
		},
		&cli.StringSliceFlag{
			Name:    "default-sysctls",
			Usage:   "Sysctls to add to every new namespace owning them, as 'key=value'.",
			Value:   cli.NewStringSlice(defConf.DefaultSysctls...),
			EnvVars: []string{"NSPIN_DEFAULT_SYSCTLS"},
		},
		&cli.StringFlag{
			Name:      "metrics-textfile",
			Usage:     "Write pin metrics to this file after every command, for the node exporter textfile collector.",
			Value:     defConf.MetricsTextfile,
			EnvVars:   []string{"NSPIN_METRICS_TEXTFILE"},
			TakesFile: true,
		},
	}
}

// StringSliceTrySplit parses the string slice from the CLI context.
// If the parsing returns just a single item, then we try to parse them by `,`
// to allow users to provide their flags comma separated.
func StringSliceTrySplit(ctx *cli.Context, name string) []string {
	values := ctx.StringSlice(name)
	separator := ","

	// It looks like we only parsed one item, let's see if there are more
	if len(values) == 1 && strings.Contains(values[0], separator) {
		values = strings.Split(values[0], separator)

		// Trim whitespace
		for i := range values {
			values[i] = strings.TrimSpace(values[i])
		}

		logrus.Infof(
			"Parsed comma separated CLI flag %q into dedicated values %v",
			name, values,
		)

		return values
	}

	// Copy the slice to avoid the cli flags being overwritten
	trimmedValues := []string{}
	for _, value := range values {
		trimmedValues = append(trimmedValues, strings.TrimSpace(value))
	}

	return trimmedValues
}
