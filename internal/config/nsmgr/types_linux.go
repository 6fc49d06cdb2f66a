//go:build linux

package nsmgr

import (
	"errors"
	"fmt"
	"os"
	"sync"

	nspkg "github.com/containernetworking/plugins/pkg/ns"
	"golang.org/x/sys/unix"
)

// CloneFlag returns the flag passed to unshare(2) to create a namespace of
// type t, or 0 for an unknown type.
func (t NSType) CloneFlag() int {
	switch t {
	case IPCNS:
		return unix.CLONE_NEWIPC
	case UTSNS:
		return unix.CLONE_NEWUTS
	case PIDNS:
		return unix.CLONE_NEWPID
	case USERNS:
		return unix.CLONE_NEWUSER
	case NETNS:
		return unix.CLONE_NEWNET
	}
	return 0
}

// namespace is the internal implementation of the Namespace interface.
type namespace struct {
	sync.Mutex
	ns     NS
	closed bool
	nsType NSType
	nsPath string
}

// NS is a wrapper for the containernetworking plugin's NetNS interface
// It exists because while NetNS is specifically called such, it is really a generic
// namespace, and can be used for other namespace types.
type NS interface {
	nspkg.NetNS
}

// Path returns the bind mount path of the namespace.
func (n *namespace) Path() string {
	if n == nil || n.ns == nil {
		return ""
	}
	return n.nsPath
}

// Type returns the namespace type (net, ipc, user or uts).
func (n *namespace) Type() NSType {
	return n.nsType
}

// Remove ensures this namespace is closed and removed.
func (n *namespace) Remove() error {
	n.Lock()
	defer n.Unlock()

	if n.closed {
		// Remove() can be called multiple
		// times without returning an error.
		return nil
	}

	if err := n.ns.Close(); err != nil {
		return err
	}

	n.closed = true

	fp := n.Path()
	if fp == "" {
		return nil
	}

	if _, err := os.Stat(fp); err == nil {
		// try to unmount, ignoring "not mounted" (EINVAL) error.
		if err := unix.Unmount(fp, unix.MNT_DETACH); err != nil && !errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("unable to unmount %s: %w", fp, err)
		}

		return os.RemoveAll(fp)
	}

	return nil
}

// GetNamespace takes a path and type, checks if it is a namespace, and if so
// returns an instance of the Namespace interface.
func GetNamespace(nsPath string, nsType NSType) (Namespace, error) {
	ns, err := nspkg.GetNS(nsPath)
	if err != nil {
		return &namespace{nsType: nsType, nsPath: nsPath, closed: true}, err
	}

	return &namespace{ns: ns, nsType: nsType, nsPath: nsPath}, nil
}
