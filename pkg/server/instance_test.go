package server_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/imagecache/pkg/server"
	"github.com/lissto-dev/imagecache/pkg/version"
)

var _ = Describe("GetOrCreateInstanceID", func() {
	It("generates a UUID once and reuses it", func() {
		ctx := context.Background()
		backend := version.NewMemoryBackend()

		first, err := server.GetOrCreateInstanceID(ctx, backend)
		Expect(err).NotTo(HaveOccurred())
		_, err = uuid.Parse(first)
		Expect(err).NotTo(HaveOccurred())

		second, err := server.GetOrCreateInstanceID(ctx, backend)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})
})
