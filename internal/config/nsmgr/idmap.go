package nsmgr

import (
	"bytes"
	"fmt"
	"os"

	"github.com/containers/storage/pkg/idtools"
	rspec "github.com/opencontainers/runtime-spec/specs-go"
)

// FormatMappings renders mappings in the uid_map/gid_map format of the
// kernel. Entries with a zero size are skipped, the order is kept.
func FormatMappings(mappings []idtools.IDMap) string {
	g := new(bytes.Buffer)
	for _, m := range mappings {
		if m.Size == 0 {
			continue
		}
		fmt.Fprintf(g, "%d %d %d\n", m.ContainerID, m.HostID, m.Size)
	}
	return g.String()
}

// WriteMappings writes mappings to a uid_map or gid_map file of a process.
// Nothing is opened if there is nothing to write.
func WriteMappings(path string, mappings []idtools.IDMap) error {
	data := FormatMappings(mappings)
	if data == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open id map %s: %w", path, err)
	}
	defer f.Close()

	// The kernel accepts a map only in a single write.
	if _, err := f.Write([]byte(data)); err != nil {
		return fmt.Errorf("write id map %s: %w", path, err)
	}
	return nil
}

// IDMapsFromSpec converts OCI id mappings.
func IDMapsFromSpec(mappings []rspec.LinuxIDMapping) []idtools.IDMap {
	if len(mappings) == 0 {
		return nil
	}
	res := make([]idtools.IDMap, 0, len(mappings))
	for _, m := range mappings {
		res = append(res, idtools.IDMap{
			ContainerID: int(m.ContainerID),
			HostID:      int(m.HostID),
			Size:        int(m.Size),
		})
	}
	return res
}

// IDMapsToSpec converts id mappings to their OCI representation.
func IDMapsToSpec(mappings []idtools.IDMap) []rspec.LinuxIDMapping {
	if len(mappings) == 0 {
		return nil
	}
	res := make([]rspec.LinuxIDMapping, 0, len(mappings))
	for _, m := range mappings {
		res = append(res, rspec.LinuxIDMapping{
			ContainerID: uint32(m.ContainerID),
			HostID:      uint32(m.HostID),
			Size:        uint32(m.Size),
		})
	}
	return res
}

func procIDMapPath(pid int, uid bool) string {
	if uid {
		return fmt.Sprintf("/proc/%d/uid_map", pid)
	}
	return fmt.Sprintf("/proc/%d/gid_map", pid)
}
