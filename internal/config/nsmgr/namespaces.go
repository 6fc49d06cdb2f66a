package nsmgr

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/containers/storage/pkg/idtools"
)

// NSType is an abstraction about available namespace types.
// The value of each type is also its name below /proc/<pid>/ns.
type NSType string

const (
	NETNS  NSType = "net"
	IPCNS  NSType = "ipc"
	UTSNS  NSType = "uts"
	USERNS NSType = "user"
	PIDNS  NSType = "pid"
)

// DefaultNamespacesDir is the directory namespaces are persisted in when a
// NamespaceConfig does not specify one.
const DefaultNamespacesDir = "/var/run/sandbox-ns"

var (
	// ErrPIDNamespace is returned for every attempt to persist a PID
	// namespace. The ns/pid link of a process cannot be bind mounted for
	// later re-entry once the process is gone.
	ErrPIDNamespace = errors.New("cannot persist namespace of PID type")

	// ErrInvalidNamespaceType is returned for namespace types outside of
	// the supported set.
	ErrInvalidNamespaceType = errors.New("invalid namespace type")

	// ErrMissingCapabilities is returned if the caller cannot write id maps
	// or mount namespaces.
	ErrMissingCapabilities = errors.New("missing capabilities")
)

// Valid returns whether t is one of the known namespace types.
func (t NSType) Valid() bool {
	switch t {
	case NETNS, IPCNS, UTSNS, USERNS, PIDNS:
		return true
	}
	return false
}

// ProcName returns the name of the namespace in /proc/<pid>/ns, or an empty
// string for an unknown type.
func (t NSType) ProcName() string {
	if !t.Valid() {
		return ""
	}
	return string(t)
}

func (t NSType) String() string {
	return string(t)
}

// Namespace provides a generic namespace interface.
type Namespace interface {
	// Remove ensures this namespace is closed and removed.
	Remove() error

	// Path returns the bind mount path of the namespace.
	Path() string

	// Type returns the namespace type (net, ipc, user or uts).
	Type() NSType
}

// NamespaceConfig describes a single namespace to be persisted.
type NamespaceConfig struct {
	// Type is the kind of namespace. The zero value means IPCNS.
	Type NSType

	// Dir is the directory the namespace file is created in. The zero value
	// means DefaultNamespacesDir.
	Dir string

	// Hostname is set in a new UTS namespace if not empty.
	Hostname string

	// UIDMappings and GIDMappings are written for a new user namespace.
	// Empty slices leave the maps untouched.
	UIDMappings []idtools.IDMap
	GIDMappings []idtools.IDMap

	// Sysctls are written below /proc/sys from inside the new namespace.
	Sysctls map[string]string
}

// nsType returns the configured type, applying the default.
func (c *NamespaceConfig) nsType() NSType {
	if c.Type == "" {
		return IPCNS
	}
	return c.Type
}

// dir returns the configured persistence directory, applying the default.
func (c *NamespaceConfig) dir() string {
	if c.Dir == "" {
		return DefaultNamespacesDir
	}
	return c.Dir
}

// target is the file the namespace gets bind mounted onto.
func (c *NamespaceConfig) target() string {
	return filepath.Join(c.dir(), c.nsType().ProcName())
}

// validate checks the config once before any resource is touched.
func (c *NamespaceConfig) validate() error {
	if c == nil {
		return errors.New("namespace config cannot be nil")
	}
	t := c.nsType()
	if !t.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidNamespaceType, t)
	}
	if t == PIDNS {
		return ErrPIDNamespace
	}
	if c.Hostname != "" && t != UTSNS {
		return fmt.Errorf("hostname %q requires a %s namespace, got %s", c.Hostname, UTSNS, t)
	}
	if (len(c.UIDMappings) != 0 || len(c.GIDMappings) != 0) && t != USERNS {
		return fmt.Errorf("id mappings require a %s namespace, got %s", USERNS, t)
	}
	return validateSysctls(t, c.Sysctls)
}

// PodNamespacesConfig is the set of namespaces requested for one pod.
type PodNamespacesConfig struct {
	Namespaces []*PodNamespaceConfig
	IDMappings *idtools.IDMappings
	Hostname   string
	Sysctls    map[string]string
}

// PodNamespaceConfig selects one namespace of a pod. Host pins the
// namespace the calling process currently lives in instead of a new one.
// Path is filled in once the namespace is pinned.
type PodNamespaceConfig struct {
	Type NSType
	Host bool
	Path string
}

// WorkerPanicError is returned when the thread scoped to a namespace
// operation panicked instead of returning.
type WorkerPanicError struct {
	Value interface{}
}

func (e *WorkerPanicError) Error() string {
	return fmt.Sprintf("namespace worker thread panicked: %v", e.Value)
}
