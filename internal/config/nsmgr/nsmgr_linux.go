//go:build linux

package nsmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/cri-o/nspin/internal/log"
	"github.com/cri-o/nspin/internal/metrics"
	"github.com/cri-o/nspin/utils"
)

// NamespaceManager manages the pinned namespaces below a directory.
// Every pod gets its own sub-directory holding one file per namespace type.
type NamespaceManager struct {
	namespacesDir string
}

// New creates a new NamespaceManager.
func New(namespacesDir string) *NamespaceManager {
	if namespacesDir == "" {
		namespacesDir = DefaultNamespacesDir
	}
	return &NamespaceManager{
		namespacesDir: namespacesDir,
	}
}

// NamespacesDir returns the directory the manager pins namespaces in.
func (mgr *NamespaceManager) NamespacesDir() string {
	return mgr.namespacesDir
}

// Initialize makes sure the namespaces directory exists.
func (mgr *NamespaceManager) Initialize() error {
	if err := utils.IsDirectory(mgr.namespacesDir); err != nil {
		// The file is not a directory, but exists.
		// We should remove it.
		if errors.Is(err, syscall.ENOTDIR) {
			if err := os.Remove(mgr.namespacesDir); err != nil {
				return fmt.Errorf("remove file to create namespaces dir: %w", err)
			}
			log.Infof(context.Background(), "Removed file %s to create directory in that path.", mgr.namespacesDir)
		} else if !os.IsNotExist(err) {
			// if it's neither an error because the file exists
			// nor an error because it does not exist, it is
			// some other disk error.
			return fmt.Errorf("checking whether namespaces dir exists: %w", err)
		}
	}
	if err := os.MkdirAll(mgr.namespacesDir, 0o755); err != nil {
		return fmt.Errorf("invalid namespaces_dir: %w", err)
	}
	return nil
}

// NewPodNamespaces creates new namespaces for a pod below a fresh
// directory. If a user namespace is requested, every other new namespace is
// created inside of it. Host entries pin the namespace of the calling
// process instead. The Path of every entry of cfg is filled in.
// The caller is responsible for cleaning up the namespaces by calling Namespace.Remove().
func (mgr *NamespaceManager) NewPodNamespaces(ctx context.Context, cfg *PodNamespacesConfig) (_ []Namespace, retErr error) {
	ctx, span := log.StartSpan(ctx)
	defer span.End()

	if cfg == nil {
		return nil, errors.New("PodNamespacesConfig cannot be nil")
	}
	if len(cfg.Namespaces) == 0 {
		return []Namespace{}, nil
	}

	podDir := filepath.Join(mgr.namespacesDir, uuid.New().String())

	var (
		userNS     *PodNamespaceConfig
		hostNS     []*PodNamespaceConfig
		privateNS  []*PodNamespaceConfig
		seenTypes  = make(map[NSType]bool)
		namespaces = make(map[*PodNamespaceConfig]Namespace)
	)
	for _, ns := range cfg.Namespaces {
		if !ns.Type.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidNamespaceType, ns.Type)
		}
		if ns.Type == PIDNS {
			return nil, ErrPIDNamespace
		}
		if seenTypes[ns.Type] {
			return nil, fmt.Errorf("namespace type %s requested twice", ns.Type)
		}
		seenTypes[ns.Type] = true

		switch {
		case ns.Host:
			hostNS = append(hostNS, ns)
		case ns.Type == USERNS:
			userNS = ns
		default:
			privateNS = append(privateNS, ns)
		}
	}

	for key := range cfg.Sysctls {
		nsType, ok := SysctlNamespace(key)
		if !ok {
			return nil, fmt.Errorf("sysctl %s is not namespaced", key)
		}
		if !requestsPrivate(privateNS, nsType) {
			return nil, fmt.Errorf("sysctl %s requires a private %s namespace", key, nsType)
		}
	}

	defer func() {
		if retErr == nil {
			return
		}
		for _, ns := range namespaces {
			if err := ns.Remove(); err != nil {
				log.Errorf(ctx, "Failed to remove namespace after failed to create: %v", err)
			}
		}
		// Files of namespaces which failed half way are still around.
		if err := removePodDir(ctx, podDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf(ctx, "Failed to remove pod namespaces dir %s: %v", podDir, err)
		}
	}()

	configs := make([]*NamespaceConfig, 0, len(privateNS))
	for _, ns := range privateNS {
		configs = append(configs, mgr.configFor(podDir, ns.Type, cfg))
	}

	if userNS != nil {
		userCfg := mgr.configFor(podDir, USERNS, cfg)
		created, err := SetupInUserNS(ctx, userCfg, configs)
		if err != nil {
			return nil, fmt.Errorf("failed to pin pod namespaces in %s: %w", podDir, err)
		}
		namespaces[userNS] = created[0]
		for i, ns := range privateNS {
			namespaces[ns] = created[i+1]
		}
	} else if err := mgr.setupConcurrently(ctx, privateNS, configs, namespaces); err != nil {
		return nil, fmt.Errorf("failed to pin pod namespaces in %s: %w", podDir, err)
	}

	for _, ns := range hostNS {
		created, err := mgr.NamespaceFromProcEntry(ctx, os.Getpid(), ns.Type, filepath.Join(podDir, ns.Type.ProcName()))
		if err != nil {
			return nil, fmt.Errorf("failed to pin host %s namespace: %w", ns.Type, err)
		}
		namespaces[ns] = created
	}

	returnedNamespaces := make([]Namespace, 0, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		created := namespaces[ns]
		ns.Path = created.Path()
		returnedNamespaces = append(returnedNamespaces, created)
	}
	return returnedNamespaces, nil
}

// setupConcurrently persists every namespace on its own worker thread.
func (mgr *NamespaceManager) setupConcurrently(ctx context.Context, pods []*PodNamespaceConfig, configs []*NamespaceConfig, namespaces map[*PodNamespaceConfig]Namespace) error {
	created := make([]Namespace, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range configs {
		i := i
		g.Go(func() error {
			ns, err := Setup(gctx, configs[i])
			if err != nil {
				return err
			}
			created[i] = ns
			return nil
		})
	}
	err := g.Wait()

	for i, ns := range created {
		if ns != nil {
			namespaces[pods[i]] = ns
		}
	}
	return err
}

func requestsPrivate(namespaces []*PodNamespaceConfig, nsType NSType) bool {
	for _, ns := range namespaces {
		if ns.Type == nsType {
			return true
		}
	}
	return false
}

func (mgr *NamespaceManager) configFor(podDir string, nsType NSType, cfg *PodNamespacesConfig) *NamespaceConfig {
	nsCfg := &NamespaceConfig{
		Type:    nsType,
		Dir:     podDir,
		Sysctls: SysctlsFor(nsType, cfg.Sysctls),
	}
	switch nsType {
	case UTSNS:
		nsCfg.Hostname = cfg.Hostname
	case USERNS:
		if cfg.IDMappings != nil {
			nsCfg.UIDMappings = cfg.IDMappings.UIDs()
			nsCfg.GIDMappings = cfg.IDMappings.GIDs()
		}
	}
	return nsCfg
}

// NamespaceFromProcEntry pins the namespace of type nsType process pid
// currently lives in by bind mounting its proc entry onto dest.
// The caller is responsible for cleaning up the namespace by calling Namespace.Remove().
func (mgr *NamespaceManager) NamespaceFromProcEntry(ctx context.Context, pid int, nsType NSType, dest string) (_ Namespace, retErr error) {
	if nsType == PIDNS {
		return nil, ErrPIDNamespace
	}

	start := time.Now()
	defer func() {
		metrics.Instance().MetricPinDurationObserve(metrics.ModeHost, start)
		if retErr != nil {
			metrics.Instance().MetricPinErrorsInc(nsType.String())
		} else {
			metrics.Instance().MetricPinsInc(nsType.String())
		}
	}()

	nsProc := NamespacePathFromProc(nsType, pid)
	// pid must have stopped or be incorrect, report error
	if nsProc == "" {
		return nil, fmt.Errorf("proc entry for pid %d is gone; pid not created or stopped", pid)
	}

	if err := prepareTarget(filepath.Dir(dest), dest); err != nil {
		return nil, err
	}

	if err := bindMount(nsProc, dest); err != nil {
		return nil, fmt.Errorf("error mounting %s namespace path: %w", nsType, err)
	}
	log.Debugf(ctx, "Pinned %s namespace of pid %d at %s", nsType, pid, dest)

	return GetNamespace(dest, nsType)
}

// NamespacePathFromProc returns the namespace path of type nsType for a given pid and type.
func NamespacePathFromProc(nsType NSType, pid int) string {
	// verify nsPath exists on the host. This will prevent us from fatally erroring
	// on network tear down if the path doesn't exist
	// Technically, this is pretty racy, but so is every check using the infra container PID.
	nsPath := procNSPath(pid, nsType)
	if _, err := os.Stat(nsPath); err != nil {
		return ""
	}
	return nsPath
}

// Wipe unpins every namespace below the namespaces directory and removes
// the pod directories. Unpinning continues after a failure, the first
// error is returned.
func (mgr *NamespaceManager) Wipe(ctx context.Context) error {
	ctx, span := log.StartSpan(ctx)
	defer span.End()

	pods, err := os.ReadDir(mgr.namespacesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read namespaces dir: %w", err)
	}

	var firstErr error
	keep := func(err error) {
		log.Errorf(ctx, "%v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, pod := range pods {
		podDir := filepath.Join(mgr.namespacesDir, pod.Name())
		if !pod.IsDir() {
			if err := Unpin(podDir); err != nil {
				keep(err)
			}
			continue
		}
		if err := removePodDir(ctx, podDir); err != nil {
			keep(err)
			continue
		}
		log.Debugf(ctx, "Wiped pod namespaces dir %s", podDir)
	}
	return firstErr
}

// removePodDir unpins every entry of a pod directory and removes it.
func removePodDir(ctx context.Context, podDir string) error {
	entries, err := os.ReadDir(podDir)
	if err != nil {
		return fmt.Errorf("read pod namespaces dir: %w", err)
	}
	var firstErr error
	for _, entry := range entries {
		if err := Unpin(filepath.Join(podDir, entry.Name())); err != nil {
			log.Errorf(ctx, "%v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if err := os.Remove(podDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pod namespaces dir: %w", err)
	}
	return nil
}

// Unpin unmounts a pinned namespace and removes its file. Paths which are
// not mounted or do not exist are no error.
func Unpin(path string) error {
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil && !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("unable to unmount %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove %s: %w", path, err)
	}
	return nil
}
