package nspincli

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cri-o/nspin/internal/config/nsmgr"
	"github.com/cri-o/nspin/internal/log"
)

var UnpinCommand = &cli.Command{
	Name:      "unpin",
	Usage:     "unmount and remove pinned namespaces",
	ArgsUsage: "PATH [PATH...]",
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return errors.New("expecting at least one namespace path")
		}
		for _, path := range c.Args().Slice() {
			if err := nsmgr.Unpin(path); err != nil {
				return fmt.Errorf("unpin %s: %w", path, err)
			}
			log.Infof(c.Context, "Unpinned namespace %s", path)
		}
		return nil
	},
}
