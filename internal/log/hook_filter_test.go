package log_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/cri-o/nspin/internal/log"
)

var _ = t.Describe("HookFilter", func() {
	t.Describe("NewFilterHook", func() {
		It("should succeed to create without filter", func() {
			// Given
			// When
			res, err := log.NewFilterHook("")

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(res).NotTo(BeNil())
		})

		It("should fail to create with invalid filter", func() {
			// Given
			// When
			res, err := log.NewFilterHook("(")

			// Then
			Expect(err).To(HaveOccurred())
			Expect(res).To(BeNil())
		})
	})

	t.Describe("Levels", func() {
		It("should work for all log levels", func() {
			// Given
			hook, err := log.NewFilterHook("")
			Expect(err).ToNot(HaveOccurred())

			// When
			res := hook.Levels()

			// Then
			Expect(res).To(Equal(logrus.AllLevels))
		})
	})

	t.Describe("Fire", func() {
		It("should drop entries not matching the filter", func() {
			// Given
			hook, err := log.NewFilterHook("^Pinned")
			Expect(err).ToNot(HaveOccurred())
			entry := &logrus.Entry{Message: "Unsharing net namespace"}

			// When
			res := hook.Fire(entry)

			// Then
			Expect(res).ToNot(HaveOccurred())
			Expect(entry.Message).To(BeEmpty())
		})

		It("should keep entries matching the filter", func() {
			// Given
			hook, err := log.NewFilterHook("^Pinned")
			Expect(err).ToNot(HaveOccurred())
			entry := &logrus.Entry{Message: "Pinned net namespace"}

			// When
			res := hook.Fire(entry)

			// Then
			Expect(res).ToNot(HaveOccurred())
			Expect(entry.Message).To(Equal("Pinned net namespace"))
		})

		It("should keep everything without a filter", func() {
			// Given
			hook, err := log.NewFilterHook("")
			Expect(err).ToNot(HaveOccurred())
			entry := &logrus.Entry{Message: "anything"}

			// When
			res := hook.Fire(entry)

			// Then
			Expect(res).ToNot(HaveOccurred())
			Expect(entry.Message).To(Equal("anything"))
		})
	})
})
