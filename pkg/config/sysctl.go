package config

import (
	"fmt"
	"strings"

	"github.com/cri-o/nspin/internal/config/nsmgr"
)

func NewSysctl(key, value string) *Sysctl {
	return &Sysctl{key, value}
}

// Sysctl is a generic abstraction over key value based sysctls.
type Sysctl struct {
	key, value string
}

// Key returns the key of the sysctl (key=value format).
func (s *Sysctl) Key() string {
	return s.key
}

// Value returns the value of the sysctl (key=value format).
func (s *Sysctl) Value() string {
	return s.value
}

// Validate checks that a sysctl is known to be namespaced by the Linux
// kernel, so it can be applied to a pinned namespace.
func (s *Sysctl) Validate() error {
	if _, ok := nsmgr.SysctlNamespace(s.key); !ok {
		return fmt.Errorf("sysctl %s is not allowed as it is not namespaced", s.key)
	}
	return nil
}

// ParseSysctls parses "key=value" strings. Empty strings are skipped.
func ParseSysctls(raw []string) ([]Sysctl, error) {
	sysctls := make([]Sysctl, 0, len(raw))

	for _, sysctl := range raw {
		// skip empty values for sake of backwards compatibility
		if sysctl == "" {
			continue
		}

		split := strings.SplitN(sysctl, "=", 2)
		if len(split) != 2 {
			return nil, fmt.Errorf("%q is not in key=value format", sysctl)
		}

		// sysctls of the form 'key = value' are rejected, only 'key=value'
		// is accepted
		trimmed := strings.TrimSpace(split[0]) + "=" + strings.TrimSpace(split[1])
		if trimmed != sysctl {
			return nil, fmt.Errorf("'%s' is invalid, extra spaces found: format should be key=value", sysctl)
		}

		sysctls = append(sysctls, Sysctl{key: split[0], value: split[1]})
	}

	return sysctls, nil
}

// Sysctls returns the parsed sysctl slice and an error if not parsable
func (c *RootConfig) Sysctls() ([]Sysctl, error) {
	return ParseSysctls(c.DefaultSysctls)
}

// SysctlMap converts sysctls into the map namespace configs take.
func SysctlMap(sysctls []Sysctl) map[string]string {
	if len(sysctls) == 0 {
		return nil
	}
	res := make(map[string]string, len(sysctls))
	for _, s := range sysctls {
		res[s.key] = s.value
	}
	return res
}
