//go:build linux

package nsmgr

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

const loopbackInterface = "lo"

// loopbackUp sets the loopback link of the calling thread's network
// namespace up. A new network namespace starts with it down.
func loopbackUp() error {
	link, err := netlink.LinkByName(loopbackInterface)
	if err != nil {
		return fmt.Errorf("unable to retrieve network namespace link %s: %w", loopbackInterface, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set link %s up: %w", loopbackInterface, err)
	}
	return nil
}
