package nspincli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cri-o/nspin/internal/version"
)

const jsonFlag = "json"

var VersionCommand = &cli.Command{
	Name:  "version",
	Usage: "display detailed version information",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    jsonFlag,
			Aliases: []string{"j"},
			Usage:   "print JSON instead of text",
		},
	},
	Action: func(c *cli.Context) error {
		v := version.Get()
		res := v.String()
		if c.Bool(jsonFlag) {
			j, err := v.JSONString()
			if err != nil {
				return fmt.Errorf("unable to generate JSON from version info: %w", err)
			}
			res = j
		}
		fmt.Fprintln(c.App.Writer, res)
		return nil
	},
}
