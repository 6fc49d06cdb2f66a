package nsmgr_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	nspkg "github.com/containernetworking/plugins/pkg/ns"
	"github.com/containers/storage/pkg/idtools"
	"github.com/containers/storage/pkg/mount"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/cri-o/nspin/internal/config/nsmgr"
)

var _ = t.Describe("Setup", func() {
	var dir string

	BeforeEach(func() {
		dir = t.MustTempDir("setup")
	})

	It("should use the clone flags of the kernel", func() {
		Expect(nsmgr.IPCNS.CloneFlag()).To(Equal(unix.CLONE_NEWIPC))
		Expect(nsmgr.UTSNS.CloneFlag()).To(Equal(unix.CLONE_NEWUTS))
		Expect(nsmgr.NETNS.CloneFlag()).To(Equal(unix.CLONE_NEWNET))
		Expect(nsmgr.USERNS.CloneFlag()).To(Equal(unix.CLONE_NEWUSER))
		Expect(nsmgr.PIDNS.CloneFlag()).To(Equal(unix.CLONE_NEWPID))
		Expect(nsmgr.NSType("mnt").CloneFlag()).To(BeZero())
	})

	t.Describe("invalid configurations", func() {
		It("should refuse a PID namespace without touching the filesystem", func() {
			// Given
			nsDir := filepath.Join(dir, "pod")

			// When
			ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsmgr.PIDNS, Dir: nsDir})

			// Then
			Expect(err).To(MatchError(nsmgr.ErrPIDNamespace))
			Expect(ns).To(BeNil())
			Expect(exists(nsDir)).To(BeFalse())
		})

		It("should refuse an unknown type", func() {
			_, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: "mnt", Dir: dir})
			Expect(err).To(MatchError(nsmgr.ErrInvalidNamespaceType))
		})

		It("should refuse a nil config", func() {
			_, err := nsmgr.Setup(context.Background(), nil)
			Expect(err).To(HaveOccurred())
		})

		It("should refuse a user namespace without capabilities", func() {
			if os.Geteuid() == 0 {
				Skip("test needs to be run as a regular user")
			}

			// When
			_, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsmgr.USERNS, Dir: dir})

			// Then
			Expect(err).To(MatchError(nsmgr.ErrMissingCapabilities))
			Expect(exists(filepath.Join(dir, "user"))).To(BeFalse())
		})

		It("should refuse a hostname outside of a UTS namespace", func() {
			_, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsmgr.IPCNS, Dir: dir, Hostname: "pod"})
			Expect(err).To(HaveOccurred())
			Expect(exists(filepath.Join(dir, "ipc"))).To(BeFalse())
		})

		It("should refuse mappings outside of a user namespace", func() {
			_, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{
				Type:        nsmgr.NETNS,
				Dir:         dir,
				UIDMappings: []idtools.IDMap{{ContainerID: 0, HostID: 100000, Size: 1}},
			})
			Expect(err).To(HaveOccurred())
		})

		It("should refuse a sysctl of another namespace", func() {
			_, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{
				Type:    nsmgr.UTSNS,
				Dir:     dir,
				Sysctls: map[string]string{"net.ipv4.ip_forward": "1"},
			})
			Expect(err).To(HaveOccurred())
		})
	})

	DescribeTable("should pin a new namespace",
		func(nsType nsmgr.NSType) {
			t.SkipIfNotRoot()

			// Given
			hostNS := inode(fmt.Sprintf("/proc/%d/ns/%s", os.Getpid(), nsType))

			// When
			ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsType, Dir: dir})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.Type()).To(Equal(nsType))
			Expect(ns.Path()).To(Equal(filepath.Join(dir, string(nsType))))

			mounted, err := mount.Mounted(ns.Path())
			Expect(err).NotTo(HaveOccurred())
			Expect(mounted).To(BeTrue())
			Expect(nspkg.IsNSorErr(ns.Path())).To(Succeed())
			Expect(inode(ns.Path())).NotTo(Equal(hostNS))
			Expect(inode(fmt.Sprintf("/proc/%d/ns/%s", os.Getpid(), nsType))).To(Equal(hostNS))

			// Removing and setting up again works
			Expect(ns.Remove()).To(Succeed())
			Expect(ns.Remove()).To(Succeed())
			Expect(exists(ns.Path())).To(BeFalse())

			ns, err = nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsType, Dir: dir})
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.Remove()).To(Succeed())
		},
		Entry("ipc", nsmgr.IPCNS),
		Entry("uts", nsmgr.UTSNS),
		Entry("net", nsmgr.NETNS),
		Entry("user", nsmgr.USERNS),
	)

	It("should pin a user namespace with mappings", func() {
		t.SkipIfNotRoot()

		// When
		ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{
			Type:        nsmgr.USERNS,
			Dir:         dir,
			UIDMappings: []idtools.IDMap{{ContainerID: 0, HostID: 100000, Size: 65536}},
			GIDMappings: []idtools.IDMap{{ContainerID: 0, HostID: 100000, Size: 65536}},
		})

		// Then
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(ns.Remove()).To(Succeed()) }()
		Expect(ns.Type()).To(Equal(nsmgr.USERNS))
		Expect(ns.Path()).To(Equal(filepath.Join(dir, "user")))
		Expect(uidMapIn(ns.Path())).To(Equal("0 100000 65536"))
	})

	It("should set the loopback link of a network namespace up", func() {
		t.SkipIfNotRoot()

		// When
		ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsmgr.NETNS, Dir: dir})

		// Then
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(ns.Remove()).To(Succeed()) }()
		Expect(loopbackUpIn(ns.Path())).To(BeTrue())
	})

	It("should default to an IPC namespace", func() {
		t.SkipIfNotRoot()

		// When
		ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Dir: dir})

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(ns.Type()).To(Equal(nsmgr.IPCNS))
		Expect(ns.Path()).To(Equal(filepath.Join(dir, "ipc")))
		Expect(ns.Remove()).To(Succeed())
	})

	It("should set the hostname of a UTS namespace", func() {
		t.SkipIfNotRoot()

		// Given
		hostHostname, err := os.Hostname()
		Expect(err).NotTo(HaveOccurred())

		// When
		ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{
			Type:     nsmgr.UTSNS,
			Dir:      dir,
			Hostname: "pinned-pod",
		})

		// Then
		Expect(err).NotTo(HaveOccurred())
		defer ns.Remove()
		Expect(hostnameIn(ns.Path())).To(Equal("pinned-pod"))

		current, err := os.Hostname()
		Expect(err).NotTo(HaveOccurred())
		Expect(current).To(Equal(hostHostname))
	})

	It("should keep the hostname of a UTS namespace without one configured", func() {
		t.SkipIfNotRoot()

		// Given
		hostHostname, err := os.Hostname()
		Expect(err).NotTo(HaveOccurred())

		// When
		ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{
			Type:     nsmgr.UTSNS,
			Dir:      dir,
			Hostname: "",
		})

		// Then
		Expect(err).NotTo(HaveOccurred())
		defer ns.Remove()
		Expect(hostnameIn(ns.Path())).To(Equal(hostHostname))
	})

	It("should apply sysctls inside the new namespace", func() {
		t.SkipIfNotRoot()

		// Given
		hostValue, err := os.ReadFile("/proc/sys/kernel/msgmax")
		Expect(err).NotTo(HaveOccurred())

		// When
		ns, err := nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{
			Type:    nsmgr.IPCNS,
			Dir:     dir,
			Sysctls: map[string]string{"kernel.msgmax": "12345"},
		})

		// Then
		Expect(err).NotTo(HaveOccurred())
		defer ns.Remove()
		Expect(sysctlIn(ns.Path(), unix.CLONE_NEWIPC, "/proc/sys/kernel/msgmax")).To(Equal("12345"))

		current, err := os.ReadFile("/proc/sys/kernel/msgmax")
		Expect(err).NotTo(HaveOccurred())
		Expect(current).To(Equal(hostValue))
	})

	It("should pin namespaces concurrently", func() {
		t.SkipIfNotRoot()

		// Given
		var (
			wg     sync.WaitGroup
			ipc    nsmgr.Namespace
			uts    nsmgr.Namespace
			ipcErr error
			utsErr error
		)

		// When
		wg.Add(2)
		go func() {
			defer wg.Done()
			ipc, ipcErr = nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsmgr.IPCNS, Dir: dir})
		}()
		go func() {
			defer wg.Done()
			uts, utsErr = nsmgr.Setup(context.Background(), &nsmgr.NamespaceConfig{Type: nsmgr.UTSNS, Dir: dir})
		}()
		wg.Wait()

		// Then
		Expect(ipcErr).NotTo(HaveOccurred())
		Expect(utsErr).NotTo(HaveOccurred())
		Expect(ipc.Path()).To(Equal(filepath.Join(dir, "ipc")))
		Expect(uts.Path()).To(Equal(filepath.Join(dir, "uts")))
		Expect(ipc.Remove()).To(Succeed())
		Expect(uts.Remove()).To(Succeed())
	})
})

var _ = t.Describe("SetupInUserNS", func() {
	var (
		dir    string
		userns *nsmgr.NamespaceConfig
	)

	BeforeEach(func() {
		dir = t.MustTempDir("userns")
		userns = &nsmgr.NamespaceConfig{
			Type:        nsmgr.USERNS,
			Dir:         dir,
			UIDMappings: []idtools.IDMap{{ContainerID: 0, HostID: 100000, Size: 65536}},
			GIDMappings: []idtools.IDMap{{ContainerID: 0, HostID: 100000, Size: 65536}},
		}
	})

	It("should refuse a PID namespace among the dependents", func() {
		// When
		res, err := nsmgr.SetupInUserNS(context.Background(), userns, []*nsmgr.NamespaceConfig{
			{Type: nsmgr.PIDNS, Dir: dir},
		})

		// Then
		Expect(err).To(MatchError(nsmgr.ErrPIDNamespace))
		Expect(res).To(BeNil())
		Expect(exists(filepath.Join(dir, "user"))).To(BeFalse())
	})

	It("should refuse a non user namespace as the owner", func() {
		_, err := nsmgr.SetupInUserNS(context.Background(), &nsmgr.NamespaceConfig{Type: nsmgr.NETNS, Dir: dir}, nil)
		Expect(err).To(MatchError(nsmgr.ErrInvalidNamespaceType))
	})

	It("should refuse a nested user namespace", func() {
		_, err := nsmgr.SetupInUserNS(context.Background(), userns, []*nsmgr.NamespaceConfig{
			{Type: nsmgr.USERNS, Dir: filepath.Join(dir, "nested")},
		})
		Expect(err).To(MatchError(nsmgr.ErrInvalidNamespaceType))
	})

	It("should fail without capabilities", func() {
		if os.Geteuid() == 0 {
			Skip("test needs to be run as a regular user")
		}

		// When
		res, err := nsmgr.SetupInUserNS(context.Background(), userns, nil)

		// Then
		Expect(err).To(MatchError(nsmgr.ErrMissingCapabilities))
		Expect(err.Error()).To(ContainSubstring("CAP_SYS_ADMIN"))
		Expect(res).To(BeNil())
		Expect(exists(filepath.Join(dir, "user"))).To(BeFalse())
	})

	It("should pin a user namespace with a network namespace inside", func() {
		t.SkipIfNotRoot()

		// Given
		hostUserNS := inode(fmt.Sprintf("/proc/%d/ns/user", os.Getpid()))
		hostNetNS := inode(fmt.Sprintf("/proc/%d/ns/net", os.Getpid()))

		// When
		res, err := nsmgr.SetupInUserNS(context.Background(), userns, []*nsmgr.NamespaceConfig{
			{Type: nsmgr.NETNS, Dir: dir},
		})

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(2))
		defer func() {
			for _, ns := range res {
				Expect(ns.Remove()).To(Succeed())
			}
		}()

		Expect(res[0].Type()).To(Equal(nsmgr.USERNS))
		Expect(res[0].Path()).To(Equal(filepath.Join(dir, "user")))
		Expect(res[1].Type()).To(Equal(nsmgr.NETNS))
		Expect(res[1].Path()).To(Equal(filepath.Join(dir, "net")))

		Expect(inode(res[0].Path())).NotTo(Equal(hostUserNS))
		Expect(inode(res[1].Path())).NotTo(Equal(hostNetNS))

		// The network namespace is owned by the new user namespace
		f, err := os.Open(res[1].Path())
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		ownerFd, err := unix.IoctlRetInt(int(f.Fd()), unix.NS_GET_USERNS)
		Expect(err).NotTo(HaveOccurred())
		defer unix.Close(ownerFd)
		var st unix.Stat_t
		Expect(unix.Fstat(ownerFd, &st)).To(Succeed())
		Expect(st.Ino).To(Equal(inode(res[0].Path())))
		Expect(loopbackUpIn(res[1].Path())).To(BeTrue())
		Expect(uidMapIn(res[0].Path())).To(Equal("0 100000 65536"))

		// The caller stays where it was
		Expect(inode(fmt.Sprintf("/proc/%d/ns/user", os.Getpid()))).To(Equal(hostUserNS))
		Expect(inode(fmt.Sprintf("/proc/%d/ns/net", os.Getpid()))).To(Equal(hostNetNS))
	})

	It("should pin a user namespace without dependents", func() {
		t.SkipIfNotRoot()

		// When
		res, err := nsmgr.SetupInUserNS(context.Background(), userns, nil)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(1))
		Expect(nspkg.IsNSorErr(res[0].Path())).To(Succeed())
		Expect(res[0].Remove()).To(Succeed())
	})

	It("should leave the unmounted files behind if the mappings cannot be written", func() {
		t.SkipIfNotRoot()

		// Given
		userns.UIDMappings = []idtools.IDMap{{ContainerID: 0, HostID: 100000, Size: 1}, {ContainerID: 0, HostID: 200000, Size: 1}}

		// When
		res, err := nsmgr.SetupInUserNS(context.Background(), userns, []*nsmgr.NamespaceConfig{
			{Type: nsmgr.UTSNS, Dir: dir},
		})

		// Then
		Expect(err).To(HaveOccurred())
		Expect(res).To(BeNil())
		for _, name := range []string{"user", "uts"} {
			info, err := os.Stat(filepath.Join(dir, name))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Size()).To(BeZero())
		}

		// And a retry with valid mappings reuses the files
		userns.UIDMappings = []idtools.IDMap{{ContainerID: 0, HostID: 100000, Size: 65536}}
		res, err = nsmgr.SetupInUserNS(context.Background(), userns, []*nsmgr.NamespaceConfig{
			{Type: nsmgr.UTSNS, Dir: dir},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(2))
		for _, ns := range res {
			Expect(ns.Remove()).To(Succeed())
		}
	})
})
