package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/containers/storage/pkg/reexec"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/cri-o/nspin/internal/log"
	"github.com/cri-o/nspin/internal/metrics"
	"github.com/cri-o/nspin/internal/nspincli"
	"github.com/cri-o/nspin/internal/version"
	"github.com/cri-o/nspin/utils"
)

func writeGoroutineStacks() {
	path := filepath.Join("/tmp", fmt.Sprintf("nspin-goroutine-stacks-%s.log", strings.ReplaceAll(time.Now().Format(time.RFC3339), ":", "")))
	if err := utils.WriteGoroutineStacksToFile(path); err != nil {
		logrus.Warnf("Failed to write goroutine stacks: %s", err)
	}
}

// catchSignals cancels the context on SIGINT and SIGTERM, which kills a
// running namespace setup process. SIGUSR1 dumps the goroutine stacks.
func catchSignals(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT, unix.SIGTERM, unix.SIGUSR1)
	go func() {
		for s := range sig {
			logrus.WithFields(logrus.Fields{
				"signal": s,
			}).Debug("received signal")
			if s == unix.SIGUSR1 {
				writeGoroutineStacks()
				continue
			}
			cancel()
			return
		}
	}()
}

func main() {
	// The user namespace setup re-executes this binary.
	if reexec.Init() {
		return
	}

	app := cli.NewApp()
	app.Name = "nspin"
	app.Usage = "pin Linux namespaces of a pod sandbox"
	app.Authors = []*cli.Author{{Name: "The nspin Maintainers"}}
	app.Version = version.Get().Version
	app.CommandNotFound = func(*cli.Context, string) { os.Exit(1) }
	app.OnUsageError = func(c *cli.Context, e error, b bool) error { return e }

	var err error
	app.Flags, app.Metadata, err = nspincli.GetFlagsAndMetadata()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sort.Sort(cli.FlagsByName(app.Flags))

	app.Commands = append([]*cli.Command{
		nspincli.PinCommand,
		nspincli.UsernsCommand,
		nspincli.UnpinCommand,
		nspincli.WipeCommand,
	}, nspincli.DefaultCommands...)

	app.Before = func(c *cli.Context) error {
		config, err := nspincli.GetAndMergeConfigFromContext(c)
		if err != nil {
			return err
		}

		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000000000Z07:00",
			FullTimestamp:   true,
		})

		level, err := logrus.ParseLevel(config.LogLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		if path := c.String("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o600)
			if err != nil {
				return err
			}
			logrus.SetOutput(f)
		}

		switch config.LogFormat {
		case "text":
			// retain logrus's default.
		case "json":
			logrus.SetFormatter(new(logrus.JSONFormatter))
		default:
			return fmt.Errorf("unknown log-format %q", config.LogFormat)
		}

		filterHook, err := log.NewFilterHook(config.LogFilter)
		if err != nil {
			return err
		}
		logrus.AddHook(filterHook)

		return nil
	}

	app.After = func(c *cli.Context) error {
		config, err := nspincli.GetConfigFromContext(c)
		if err != nil {
			return err
		}
		if config.MetricsTextfile == "" {
			return nil
		}
		if err := metrics.Instance().WriteTextfile(config.MetricsTextfile); err != nil {
			return fmt.Errorf("write metrics to %s: %w", config.MetricsTextfile, err)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	catchSignals(cancel)

	if err := app.RunContext(ctx, os.Args); err != nil {
		cancel()
		logrus.Fatal(err)
	}
	cancel()
}
