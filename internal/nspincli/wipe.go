package nspincli

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cri-o/nspin/internal/config/nsmgr"
	"github.com/cri-o/nspin/internal/log"
	"github.com/cri-o/nspin/internal/version"
)

var WipeCommand = &cli.Command{
	Name:   "wipe",
	Usage:  "unpin all namespaces if the version of nspin changed",
	Action: nspinWipe,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "force wipe by skipping the version check",
		},
	},
}

func nspinWipe(c *cli.Context) error {
	ctx := log.AddOperationNameAndID(c.Context, "wipe")

	cfg, err := GetConfigFromContext(c)
	if err != nil {
		return err
	}

	shouldWipe := true
	// First, check if we need to upgrade at all
	if !c.IsSet("force") {
		shouldWipe, err = version.ShouldWipe(cfg.VersionFile)
		if err != nil {
			logrus.Infof("Checking whether nspin should wipe namespaces: %v", err)
		}
	}

	if shouldWipe {
		logrus.Infof("Wiping pinned namespaces below %s", cfg.NamespacesDir)
		if err := nsmgr.New(cfg.NamespacesDir).Wipe(ctx); err != nil {
			return err
		}
	} else {
		logrus.Info("Major and minor version unchanged; no wipe needed")
	}

	return version.WriteVersionFile(cfg.VersionFile)
}
