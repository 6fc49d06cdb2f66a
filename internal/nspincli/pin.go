package nspincli

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/cri-o/nspin/internal/config/nsmgr"
	"github.com/cri-o/nspin/internal/log"
	"github.com/cri-o/nspin/pkg/config"
)

const (
	typeFlag      = "type"
	hostFlag      = "host"
	hostnameFlag  = "hostname"
	sysctlFlag    = "sysctl"
	dirFlag       = "dir"
	dependentFlag = "dependent"
)

var PinCommand = &cli.Command{
	Name:  "pin",
	Usage: "pin new namespaces of a pod",
	Description: `Creates the requested namespaces without entering them and bind mounts
them below a new directory in the namespaces dir. If a user namespace is
requested, all other new namespaces are created inside of it.

With --dir a single namespace is pinned into the given directory instead.`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    typeFlag,
			Aliases: []string{"t"},
			Usage:   "namespace types to create: ipc, uts, net or user",
			Value:   cli.NewStringSlice(string(nsmgr.IPCNS), string(nsmgr.UTSNS), string(nsmgr.NETNS)),
		},
		&cli.StringSliceFlag{
			Name:  hostFlag,
			Usage: "namespace types to pin from the host instead of creating them",
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
		&cli.StringFlag{
			Name:      dirFlag,
			Aliases:   []string{"d"},
			Usage:     "pin a single namespace into this directory",
			TakesFile: true,
		},
	},
	Action: pin,
}

func pin(c *cli.Context) error {
	ctx := log.AddOperationNameAndID(c.Context, "pin")

	cfg, err := GetConfigFromContext(c)
	if err != nil {
		return err
	}

	types, err := parseTypes(StringSliceTrySplit(c, typeFlag))
	if err != nil {
		return err
	}
	hostTypes, err := parseTypes(StringSliceTrySplit(c, hostFlag))
	if err != nil {
		return err
	}
	sysctls, err := mergeSysctls(cfg, StringSliceTrySplit(c, sysctlFlag), types)
	if err != nil {
		return err
	}

	if dir := c.String(dirFlag); dir != "" {
		if len(types) != 1 || len(hostTypes) != 0 {
			return errors.New("--dir pins exactly one new namespace")
		}
		nsType := types[0]
		if nsType == nsmgr.USERNS {
			return errors.New("use the userns command to pin a user namespace into a directory")
		}
		nsCfg := &nsmgr.NamespaceConfig{
			Type:    nsType,
			Dir:     dir,
			Sysctls: sysctls,
		}
		if nsType == nsmgr.UTSNS {
			nsCfg.Hostname = c.String(hostnameFlag)
		}
		ns, err := nsmgr.Setup(ctx, nsCfg)
		if err != nil {
			return err
		}
		return printNamespaces(c.App.Writer, ns)
	}

	mgr := nsmgr.New(cfg.NamespacesDir)
	if err := mgr.Initialize(); err != nil {
		return err
	}

	podCfg := &nsmgr.PodNamespacesConfig{
		Hostname: c.String(hostnameFlag),
		Sysctls:  sysctls,
	}
	for _, nsType := range types {
		podCfg.Namespaces = append(podCfg.Namespaces, &nsmgr.PodNamespaceConfig{Type: nsType})
		if nsType == nsmgr.USERNS {
			podCfg.IDMappings, err = cfg.IDMappings()
			if err != nil {
				return err
			}
		}
	}
	for _, nsType := range hostTypes {
		podCfg.Namespaces = append(podCfg.Namespaces, &nsmgr.PodNamespaceConfig{Type: nsType, Host: true})
	}

	namespaces, err := mgr.NewPodNamespaces(ctx, podCfg)
	if err != nil {
		return err
	}
	return printNamespaces(c.App.Writer, namespaces...)
}

func parseTypes(values []string) ([]nsmgr.NSType, error) {
	types := make([]nsmgr.NSType, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		nsType := nsmgr.NSType(value)
		if !nsType.Valid() {
			return nil, fmt.Errorf("%w: %s", nsmgr.ErrInvalidNamespaceType, value)
		}
		types = append(types, nsType)
	}
	return types, nil
}

// mergeSysctls combines the configured default sysctls owned by one of
// types with the explicitly requested ones, which take precedence.
func mergeSysctls(cfg *config.Config, explicit []string, types []nsmgr.NSType) (map[string]string, error) {
	defaults, err := cfg.Sysctls()
	if err != nil {
		return nil, err
	}
	requested, err := config.ParseSysctls(explicit)
	if err != nil {
		return nil, err
	}

	res := map[string]string{}
	for _, sysctl := range defaults {
		nsType, ok := nsmgr.SysctlNamespace(sysctl.Key())
		if ok && containsType(types, nsType) {
			res[sysctl.Key()] = sysctl.Value()
		}
	}
	for key, value := range config.SysctlMap(requested) {
		res[key] = value
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res, nil
}

func containsType(types []nsmgr.NSType, nsType nsmgr.NSType) bool {
	for _, t := range types {
		if t == nsType {
			return true
		}
	}
	return false
}

func printNamespaces(w io.Writer, namespaces ...nsmgr.Namespace) error {
	for _, ns := range namespaces {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", ns.Type(), ns.Path()); err != nil {
			return err
		}
	}
	return nil
}
