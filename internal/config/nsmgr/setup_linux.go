//go:build linux

package nsmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/containers/storage/pkg/mount"
	"golang.org/x/sys/unix"

	"github.com/cri-o/nspin/internal/log"
	"github.com/cri-o/nspin/internal/metrics"
)

const (
	procRootPath = "/proc"
	nsDirPath    = "ns"
	taskDirPath  = "task"
)

// procNSPath returns the namespace link of type nsType of process pid.
func procNSPath(pid int, nsType NSType) string {
	return filepath.Join(procRootPath, strconv.Itoa(pid), nsDirPath, nsType.ProcName())
}

// currentThreadNSPath returns the namespace link of the calling thread. It
// is only meaningful on a goroutine locked to its thread.
func currentThreadNSPath(nsType NSType) string {
	return filepath.Join(procRootPath, strconv.Itoa(os.Getpid()),
		taskDirPath, strconv.Itoa(unix.Gettid()), nsDirPath, nsType.ProcName())
}

// Setup creates a new namespace of the configured type and persists it
// without moving the caller into it. The namespace is unshared on a
// dedicated thread which is thrown away afterwards.
// A user namespace is handed to SetupInUserNS without dependents. PID
// namespaces cannot be persisted.
// The caller is responsible for cleaning up by calling Namespace.Remove().
func Setup(ctx context.Context, cfg *NamespaceConfig) (_ Namespace, retErr error) {
	ctx, span := log.StartSpan(ctx)
	defer span.End()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	nsType := cfg.nsType()
	if nsType == USERNS {
		// A threaded process cannot unshare a user namespace.
		res, err := SetupInUserNS(ctx, cfg, nil)
		if err != nil {
			return nil, err
		}
		return res[0], nil
	}

	start := time.Now()
	defer func() {
		metrics.Instance().MetricPinDurationObserve(metrics.ModeThread, start)
		if retErr != nil {
			metrics.Instance().MetricPinErrorsInc(nsType.String())
		} else {
			metrics.Instance().MetricPinsInc(nsType.String())
		}
	}()

	dest := cfg.target()
	if err := runScoped(func() error {
		if err := prepareTarget(cfg.dir(), dest); err != nil {
			return err
		}
		source := currentThreadNSPath(nsType)
		log.Debugf(ctx, "Unsharing %s namespace on thread %d to persist at %s", nsType, unix.Gettid(), dest)
		return persistNamespace(nsType, cfg.Hostname, cfg.Sysctls, source, dest)
	}); err != nil {
		return nil, fmt.Errorf("persist %s namespace: %w", nsType, err)
	}

	ns, err := GetNamespace(dest, nsType)
	if err != nil {
		return nil, fmt.Errorf("get persisted %s namespace %s: %w", nsType, dest, err)
	}
	log.Infof(ctx, "Pinned %s namespace at %s", nsType, dest)
	return ns, nil
}

// prepareTarget creates the directory and the empty file a namespace gets
// bind mounted onto. Both steps are no-ops if the paths already exist.
func prepareTarget(dir, dest string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create namespaces dir %s: %w", dir, err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create namespace file %s: %w", dest, err)
	}
	return f.Close()
}

// persistNamespace moves the calling thread into a new namespace of type
// nsType and bind mounts it from source onto dest.
func persistNamespace(nsType NSType, hostname string, sysctls map[string]string, source, dest string) error {
	if err := validateNSSource(source); err != nil {
		return err
	}

	if err := unix.Unshare(nsType.CloneFlag()); err != nil {
		return fmt.Errorf("unshare %s namespace: %w", nsType, err)
	}

	if err := configureNamespace(nsType, hostname, sysctls); err != nil {
		return err
	}

	return bindMount(source, dest)
}

// configureNamespace sets the hostname and sysctls of a namespace the
// calling thread just unshared. Network namespaces get their loopback up.
func configureNamespace(nsType NSType, hostname string, sysctls map[string]string) error {
	if nsType == UTSNS && hostname != "" {
		if err := unix.Sethostname([]byte(hostname)); err != nil {
			return fmt.Errorf("set hostname %q: %w", hostname, err)
		}
	}
	if err := applySysctls(SysctlsFor(nsType, sysctls)); err != nil {
		return err
	}
	if nsType == NETNS {
		return loopbackUp()
	}
	return nil
}

// validateNSSource makes sure a namespace link exists and is accessible.
func validateNSSource(source string) error {
	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open namespace %s: %w", source, err)
	}
	return f.Close()
}

func bindMount(source, dest string) error {
	if err := mount.ForceMount(source, dest, "none", "rbind"); err != nil {
		return fmt.Errorf("failed to mount %s to %s: %w", source, dest, err)
	}
	return nil
}
