//go:build !linux
// +build !linux

package nsmgr

import (
	"context"
	"fmt"
	"runtime"
)

// NamespaceManager manages the pinned namespaces below a directory.
type NamespaceManager struct {
	namespacesDir string
}

// New creates a new NamespaceManager.
func New(namespacesDir string) *NamespaceManager {
	if namespacesDir == "" {
		namespacesDir = DefaultNamespacesDir
	}
	return &NamespaceManager{namespacesDir: namespacesDir}
}

func (mgr *NamespaceManager) NamespacesDir() string {
	return mgr.namespacesDir
}

func (mgr *NamespaceManager) Initialize() error {
	return nil
}

func (mgr *NamespaceManager) NewPodNamespaces(_ context.Context, _ *PodNamespacesConfig) ([]Namespace, error) {
	return nil, fmt.Errorf("(*NamespaceManager).NewPodNamespaces unsupported on %s", runtime.GOOS)
}

func (mgr *NamespaceManager) NamespaceFromProcEntry(_ context.Context, _ int, _ NSType, _ string) (Namespace, error) {
	return nil, fmt.Errorf("(*NamespaceManager).NamespaceFromProcEntry unsupported on %s", runtime.GOOS)
}

func (mgr *NamespaceManager) Wipe(_ context.Context) error {
	return fmt.Errorf("(*NamespaceManager).Wipe unsupported on %s", runtime.GOOS)
}

// Unpin is not supported on this platform.
func Unpin(_ string) error {
	return fmt.Errorf("Unpin not supported on %s", runtime.GOOS)
}

// CloneFlag returns 0, there are no clone flags on this platform.
func (t NSType) CloneFlag() int {
	return 0
}

// Setup is not supported on this platform.
func Setup(_ context.Context, _ *NamespaceConfig) (Namespace, error) {
	return nil, fmt.Errorf("Setup not supported on %s", runtime.GOOS)
}

// SetupInUserNS is not supported on this platform.
func SetupInUserNS(_ context.Context, _ *NamespaceConfig, _ []*NamespaceConfig) ([]Namespace, error) {
	return nil, fmt.Errorf("SetupInUserNS not supported on %s", runtime.GOOS)
}

// GetNamespace takes a path and type, checks if it is a namespace, and if so
// returns an instance of the Namespace interface.
func GetNamespace(_ string, _ NSType) (Namespace, error) {
	return nil, fmt.Errorf("GetNamespace not supported on %s", runtime.GOOS)
}

// NamespacePathFromProc returns the namespace path of type nsType for a given pid and type.
func NamespacePathFromProc(_ NSType, _ int) string {
	return ""
}
