//go:build linux

package nsmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/containers/storage/pkg/reexec"
	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"github.com/cri-o/nspin/internal/log"
	"github.com/cri-o/nspin/internal/metrics"
)

const usernsChildName = "nspin-userns-child"

// File descriptors of the handshake pipes in the child.
const (
	childSyncWriteFd = 3
	childSyncReadFd  = 4
)

// nolint: gochecknoinits
func init() {
	reexec.Register(usernsChildName, usernsChild)
	if len(os.Args) > 0 && os.Args[0] == usernsChildName {
		// Keep main on the thread group leader, /proc/<pid>/ns/* shows
		// the namespaces of that thread.
		runtime.LockOSThread()
	}
}

// usernsChildArgs is sent to the child as JSON on stdin.
type usernsChildArgs struct {
	// UIDMapped and GIDMapped tell the child to switch to uid and gid 0.
	UIDMapped  bool                   `json:"uidMapped,omitempty"`
	GIDMapped  bool                   `json:"gidMapped,omitempty"`
	Namespaces []usernsChildNamespace `json:"namespaces"`
}

type usernsChildNamespace struct {
	Type     NSType            `json:"type"`
	Hostname string            `json:"hostname,omitempty"`
	Sysctls  map[string]string `json:"sysctls,omitempty"`
}

// nsTarget is a namespace file waiting for its bind mount.
type nsTarget struct {
	nsType NSType
	dest   string
}

// SetupInUserNS persists a new user namespace and the dependent namespaces
// created inside of it, without moving the caller into any of them.
//
// CLONE_NEWUSER requires a single threaded caller, so the namespaces are
// created by a re-executed child of the current binary. The binary has to
// call reexec.Init() at the start of main. The returned slice holds the
// user namespace followed by the dependents in order.
// The caller is responsible for cleaning up by calling Namespace.Remove().
func SetupInUserNS(ctx context.Context, userns *NamespaceConfig, dependents []*NamespaceConfig) (_ []Namespace, retErr error) {
	ctx, span := log.StartSpan(ctx)
	defer span.End()

	if err := userns.validate(); err != nil {
		return nil, err
	}
	if userns.nsType() != USERNS {
		return nil, fmt.Errorf("%w: expected %s namespace, got %s", ErrInvalidNamespaceType, USERNS, userns.nsType())
	}
	for _, ns := range dependents {
		if err := ns.validate(); err != nil {
			return nil, err
		}
		if ns.nsType() == USERNS {
			return nil, fmt.Errorf("%w: nested %s namespaces are not supported", ErrInvalidNamespaceType, USERNS)
		}
	}

	childCaps := usernsChildCaps(dependents)
	if err := checkCapabilities(childCaps); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.Instance().MetricPinDurationObserve(metrics.ModeUserNS, start)
		for _, cfg := range append([]*NamespaceConfig{userns}, dependents...) {
			if retErr != nil {
				metrics.Instance().MetricPinErrorsInc(cfg.nsType().String())
			} else {
				metrics.Instance().MetricPinsInc(cfg.nsType().String())
			}
		}
	}()

	targets := make([]nsTarget, 0, len(dependents)+1)
	args := usernsChildArgs{
		UIDMapped: len(userns.UIDMappings) != 0,
		GIDMapped: len(userns.GIDMappings) != 0,
	}
	for _, cfg := range append([]*NamespaceConfig{userns}, dependents...) {
		dest := cfg.target()
		if err := prepareTarget(cfg.dir(), dest); err != nil {
			return nil, err
		}
		targets = append(targets, nsTarget{nsType: cfg.nsType(), dest: dest})
		if cfg != userns {
			args.Namespaces = append(args.Namespaces, usernsChildNamespace{
				Type:     cfg.nsType(),
				Hostname: cfg.Hostname,
				Sysctls:  cfg.Sysctls,
			})
		}
	}

	if err := runUsernsParent(ctx, userns, targets, childCaps, &args); err != nil {
		return nil, err
	}

	res, err := collectNamespaces(ctx, targets)
	if err != nil {
		return nil, err
	}
	log.Infof(ctx, "Pinned %d namespaces in a new user namespace", len(res))
	return res, nil
}

// collectNamespaces opens every persisted target. If one cannot be opened
// all targets are unpinned, none of them is handed out.
func collectNamespaces(ctx context.Context, targets []nsTarget) ([]Namespace, error) {
	res := make([]Namespace, 0, len(targets))
	for i, target := range targets {
		ns, err := GetNamespace(target.dest, target.nsType)
		if err != nil {
			for _, nsToClose := range res {
				if err2 := nsToClose.Remove(); err2 != nil {
					log.Errorf(ctx, "Failed to remove namespace after failed to create: %v", err2)
				}
			}
			for _, rest := range targets[i:] {
				if err2 := Unpin(rest.dest); err2 != nil {
					log.Errorf(ctx, "Failed to unpin namespace after failed to create: %v", err2)
				}
			}
			return nil, fmt.Errorf("get persisted %s namespace %s: %w", target.nsType, target.dest, err)
		}
		res = append(res, ns)
	}
	return res, nil
}

// runUsernsParent starts the child and drives the parent side of the
// handshake until the child exited.
func runUsernsParent(ctx context.Context, userns *NamespaceConfig, targets []nsTarget, childCaps []capability.Cap, args *usernsChildArgs) error {
	stdin, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode namespace setup arguments: %w", err)
	}

	// parentRead <- childWrite carries child to parent messages,
	// parentWrite -> childRead the opposite direction.
	parentRead, childWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	childRead, parentWrite, err := os.Pipe()
	if err != nil {
		parentRead.Close()
		childWrite.Close()
		return fmt.Errorf("failed to create pipe: %w", err)
	}

	cmd := reexec.CommandContext(ctx, usernsChildName)
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Cloneflags = unix.CLONE_NEWUSER
	// The child execs without a uid mapping, ambient capabilities are the
	// only ones surviving that exec.
	cmd.SysProcAttr.AmbientCaps = ambientCaps(childCaps)
	cmd.ExtraFiles = []*os.File{childWrite, childRead}
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{parentRead, childWrite, childRead, parentWrite} {
			f.Close()
		}
		return fmt.Errorf("failed to start namespace setup process: %w", err)
	}
	childWrite.Close()
	childRead.Close()

	pid := cmd.Process.Pid
	log.Debugf(ctx, "Started namespace setup process %d", pid)

	hsErr := runParentHandshake(
		newSyncConn(parentRead, parentWrite),
		func() error {
			if len(userns.UIDMappings) != 0 {
				if err := WriteMappings(procIDMapPath(pid, true), userns.UIDMappings); err != nil {
					return fmt.Errorf("parent write child's uid mappings failed: %w", err)
				}
			}
			if len(userns.GIDMappings) != 0 {
				if err := WriteMappings(procIDMapPath(pid, false), userns.GIDMappings); err != nil {
					return fmt.Errorf("parent write child's gid mappings failed: %w", err)
				}
			}
			return nil
		},
		func() error {
			for _, target := range targets {
				source := procNSPath(pid, target.nsType)
				if err := validateNSSource(source); err != nil {
					return err
				}
				if err := bindMount(source, target.dest); err != nil {
					return err
				}
				log.Debugf(ctx, "Bind mounted %s onto %s", source, target.dest)
			}
			return nil
		},
	)

	parentRead.Close()
	parentWrite.Close()
	waitErr := cmd.Wait()

	if hsErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			hsErr = fmt.Errorf("%w: %s", hsErr, msg)
		}
		if waitErr != nil {
			return fmt.Errorf("%w (namespace setup process: %v)", hsErr, waitErr)
		}
		return hsErr
	}
	if waitErr != nil {
		log.Warnf(ctx, "Namespace setup process %d did not exit cleanly: %v", pid, waitErr)
	}
	return nil
}

// usernsChild is the entry point of the re-executed child.
func usernsChild() {
	if err := runUsernsChild(); err != nil {
		fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func runUsernsChild() error {
	var args usernsChildArgs
	if err := json.NewDecoder(os.NewFile(0, "stdin")).Decode(&args); err != nil {
		return fmt.Errorf("decode namespace setup arguments: %w", err)
	}

	w := os.NewFile(childSyncWriteFd, "sync-write")
	r := os.NewFile(childSyncReadFd, "sync-read")
	defer w.Close()
	defer r.Close()

	return runChildHandshake(
		newSyncConn(r, w),
		func() error {
			return becomeRoot(args.UIDMapped, args.GIDMapped)
		},
		func() error {
			for _, ns := range args.Namespaces {
				if err := unix.Unshare(ns.Type.CloneFlag()); err != nil {
					return fmt.Errorf("child unshare %s ns failed: %w", ns.Type, err)
				}
				if err := configureNamespace(ns.Type, ns.Hostname, ns.Sysctls); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

// becomeRoot switches to uid and gid 0 in the current user namespace, each
// only if it got mapped. Without a mapping the ambient capabilities are
// enough for the dependents. The syscall package applies the change to
// every thread of the process.
func becomeRoot(uid, gid bool) error {
	if uid {
		if err := syscall.Setresuid(0, 0, 0); err != nil {
			return fmt.Errorf("setresuid failed: %w", err)
		}
	}
	if gid {
		if err := syscall.Setresgid(0, 0, 0); err != nil {
			return fmt.Errorf("setresgid failed: %w", err)
		}
	}
	return nil
}
