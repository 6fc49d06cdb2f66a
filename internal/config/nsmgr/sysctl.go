package nsmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const procSysPath = "/proc/sys"

var sysctlNamespaces = map[string]NSType{
	"kernel.sem":        IPCNS,
	"kernel.hostname":   UTSNS,
	"kernel.domainname": UTSNS,
}

var sysctlPrefixNamespaces = map[string]NSType{
	"kernel.shm": IPCNS,
	"kernel.msg": IPCNS,
	"fs.mqueue.": IPCNS,
	"net.":       NETNS,
}

// SysctlNamespace returns the namespace type a sysctl is scoped to, and
// false if the kernel does not namespace it.
func SysctlNamespace(key string) (NSType, bool) {
	if ns, found := sysctlNamespaces[key]; found {
		return ns, true
	}
	for p, ns := range sysctlPrefixNamespaces {
		if strings.HasPrefix(key, p) {
			return ns, true
		}
	}
	return "", false
}

func validateSysctls(nsType NSType, sysctls map[string]string) error {
	for key := range sysctls {
		ns, ok := SysctlNamespace(key)
		if !ok {
			return fmt.Errorf("sysctl %s is not namespaced", key)
		}
		if ns != nsType {
			return fmt.Errorf("sysctl %s belongs to the %s namespace, not %s", key, ns, nsType)
		}
	}
	return nil
}

// SysctlsFor returns the subset of sysctls owned by nsType, nil if there is
// none.
func SysctlsFor(nsType NSType, sysctls map[string]string) map[string]string {
	var res map[string]string
	for key, value := range sysctls {
		if ns, ok := SysctlNamespace(key); ok && ns == nsType {
			if res == nil {
				res = make(map[string]string)
			}
			res[key] = value
		}
	}
	return res
}

func sysctlPath(key string) string {
	return filepath.Join(procSysPath, strings.ReplaceAll(key, ".", "/"))
}

// applySysctls writes sysctls from the calling thread, which has to be a
// member of the namespace the sysctls belong to.
func applySysctls(sysctls map[string]string) error {
	keys := make([]string, 0, len(sysctls))
	for key := range sysctls {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := os.WriteFile(sysctlPath(key), []byte(sysctls[key]), 0o644); err != nil {
			return fmt.Errorf("set sysctl %s=%s: %w", key, sysctls[key], err)
		}
	}
	return nil
}
