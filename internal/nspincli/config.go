package nspincli

import (
	"github.com/urfave/cli/v2"

	"github.com/cri-o/nspin/pkg/config"
)

var ConfigCommand = &cli.Command{
	Name: "config",
	Usage: `Outputs the configuration file that could be used by nspin. This
allows you to save you current configuration setup and then load it later
with **--config**. Global options will modify the output.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "default",
			Usage: "Output the default configuration (without taking into account any configuration options).",
		},
	},
	Action: func(c *cli.Context) error {
		conf, err := GetConfigFromContext(c)
		if err != nil {
			return err
		}

		if c.Bool("default") {
			conf, err = config.DefaultConfig()
			if err != nil {
				return err
			}
		}

		b, err := conf.ToBytes()
		if err != nil {
			return err
		}
		_, err = c.App.Writer.Write(b)
		return err
	},
}
