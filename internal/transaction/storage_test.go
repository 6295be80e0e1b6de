package transaction

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "tx-1_receipt.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the filename", func() {
				Expect(savedPath).To(Equal(filename))
			})

			It("should write the file to disk", func() {
				read, readErr := storage.Get(savedPath)
				Expect(readErr).NotTo(HaveOccurred())
				Expect(read).To(Equal(data))
			})
		})
	})

	Describe("Get", func() {
		When("the file does not exist", func() {
			It("returns an error", func() {
				_, err := storage.Get("missing.jpg")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := storage.Save("tx-1_receipt.jpg", []byte("data"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes the file", func() {
			Expect(storage.Delete("tx-1_receipt.jpg")).To(Succeed())
			_, err := storage.Get("tx-1_receipt.jpg")
			Expect(err).To(HaveOccurred())
		})

		It("returns an error for a missing file", func() {
			Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
		})
	})

	Describe("NewLocalStorage", func() {
		It("creates the base directory when missing", func() {
			nested := filepath.Join(tmpDir, "a", "b")
			_, err := NewLocalStorage(nested)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
