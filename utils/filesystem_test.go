package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cri-o/nspin/utils"
)

// The actual test suite
var _ = t.Describe("Filesystem", func() {
	t.Describe("IsDirectory", func() {
		It("should succeed on a directory", func() {
			Expect(utils.IsDirectory(t.MustTempDir("isdir"))).To(BeNil())
		})

		It("should fail with ENOTDIR on a file", func() {
			// Given
			file := t.MustTempFile("isdir")

			// When
			err := utils.IsDirectory(file)

			// Then
			Expect(errors.Is(err, syscall.ENOTDIR)).To(BeTrue())
		})

		It("should fail on a missing path", func() {
			// Given
			missing := filepath.Join(t.MustTempDir("isdir"), "missing")

			// When
			err := utils.IsDirectory(missing)

			// Then
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})
})
