package nspincli

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/cri-o/nspin/internal/config/nsmgr"
	"github.com/cri-o/nspin/internal/log"
)

var UsernsCommand = &cli.Command{
	Name:  "userns",
	Usage: "pin a new user namespace and namespaces owned by it",
	Description: `Creates a user namespace with the configured --uid-mappings and
--gid-mappings, creates the dependent namespaces inside of it and pins all
of them into a directory.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      dirFlag,
			Aliases:   []string{"d"},
			Usage:     "directory to pin the namespaces into",
			Required:  true,
			TakesFile: true,
		},
		&cli.StringSliceFlag{
			Name:    dependentFlag,
			Aliases: []string{"t"},
			Usage:   "namespace types to create inside the user namespace: ipc, uts or net",
		},
		&cli.StringFlag{
			Name:  hostnameFlag,
			Usage: "hostname of a new UTS namespace",
		},
		&cli.StringSliceFlag{
			Name:    sysctlFlag,
			Aliases: []string{"s"},
			Usage:   "sysctl to set in the new namespace owning it, as 'key=value'",
		},
	},
	Action: userns,
}

func userns(c *cli.Context) error {
	ctx := log.AddOperationNameAndID(c.Context, "userns")

	cfg, err := GetConfigFromContext(c)
	if err != nil {
		return err
	}

	mappings, err := cfg.IDMappings()
	if err != nil {
		return err
	}
	if mappings == nil {
		return errors.New("a user namespace needs --uid-mappings and --gid-mappings")
	}

	types, err := parseTypes(StringSliceTrySplit(c, dependentFlag))
	if err != nil {
		return err
	}
	sysctls, err := mergeSysctls(cfg, StringSliceTrySplit(c, sysctlFlag), types)
	if err != nil {
		return err
	}

	dir := c.String(dirFlag)
	usernsCfg := &nsmgr.NamespaceConfig{
		Type:        nsmgr.USERNS,
		Dir:         dir,
		UIDMappings: mappings.UIDs(),
		GIDMappings: mappings.GIDs(),
	}
	dependents := make([]*nsmgr.NamespaceConfig, 0, len(types))
	for _, nsType := range types {
		nsCfg := &nsmgr.NamespaceConfig{
			Type:    nsType,
			Dir:     dir,
			Sysctls: nsmgr.SysctlsFor(nsType, sysctls),
		}
		if nsType == nsmgr.UTSNS {
			nsCfg.Hostname = c.String(hostnameFlag)
		}
		dependents = append(dependents, nsCfg)
	}

	namespaces, err := nsmgr.SetupInUserNS(ctx, usernsCfg, dependents)
	if err != nil {
		return err
	}
	return printNamespaces(c.App.Writer, namespaces...)
}
