//go:build linux

package nsmgr

import (
	"fmt"
	"strings"

	"github.com/syndtr/gocapability/capability"
)

// usernsCaps are needed by the parent to write the id maps and bind mount
// the namespaces.
var usernsCaps = []capability.Cap{
	capability.CAP_SYS_ADMIN,
	capability.CAP_SETUID,
	capability.CAP_SETGID,
}

// usernsChildCaps returns the capabilities raised as ambient capabilities
// of the setup process. A network namespace among the dependents needs
// CAP_NET_ADMIN for its loopback link.
func usernsChildCaps(dependents []*NamespaceConfig) []capability.Cap {
	caps := append([]capability.Cap{}, usernsCaps...)
	for _, ns := range dependents {
		if ns.nsType() == NETNS {
			return append(caps, capability.CAP_NET_ADMIN)
		}
	}
	return caps
}

// checkCapabilities returns ErrMissingCapabilities if the calling process
// lacks any of caps in its effective set.
func checkCapabilities(caps []capability.Cap) error {
	current, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("get capabilities: %w", err)
	}
	if err := current.Load(); err != nil {
		return fmt.Errorf("load capabilities: %w", err)
	}
	var missing []string
	for _, c := range caps {
		if !current.Get(capability.EFFECTIVE, c) {
			missing = append(missing, strings.ToUpper("CAP_"+c.String()))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCapabilities, strings.Join(missing, ", "))
	}
	return nil
}

func ambientCaps(caps []capability.Cap) []uintptr {
	res := make([]uintptr, 0, len(caps))
	for _, c := range caps {
		res = append(res, uintptr(c))
	}
	return res
}
