package utils_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cri-o/nspin/utils"
)

type errorReaderWriter struct{}

func (m *errorReaderWriter) Write(p []byte) (int, error) {
	return 0, errors.New("write error")
}

// The actual test suite
var _ = t.Describe("Utils", func() {
	t.Describe("WriteGoroutineStacks", func() {
		It("should write the stack of the running goroutine", func() {
			// Given
			var buf bytes.Buffer

			// When
			err := utils.WriteGoroutineStacks(&buf)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(buf.String()).To(ContainSubstring("goroutine"))
		})

		It("should fail on a nil writer", func() {
			Expect(utils.WriteGoroutineStacks(nil)).NotTo(Succeed())
		})

		It("should fail on a failing writer", func() {
			Expect(utils.WriteGoroutineStacks(&errorReaderWriter{})).NotTo(Succeed())
		})
	})

	t.Describe("WriteGoroutineStacksToFile", func() {
		It("should succeed", func() {
			// Given
			testFile := filepath.Join(t.MustTempDir("stacks"), "testFile")

			// When
			err := utils.WriteGoroutineStacksToFile(testFile)

			// Then
			Expect(err).ToNot(HaveOccurred())
			content, err := os.ReadFile(testFile)
			Expect(err).ToNot(HaveOccurred())
			Expect(content).NotTo(BeEmpty())
		})

		It("should fail on invalid file path", func() {
			// Given

			// When
			err := utils.WriteGoroutineStacksToFile("")

			// Then
			Expect(err).To(HaveOccurred())
		})
	})
})
