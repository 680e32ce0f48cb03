package placeholder_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/lissto-dev/imagecache/pkg/network"
	"github.com/lissto-dev/imagecache/pkg/placeholder"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) TinyPlaceholder(ctx context.Context, key string) (string, error) {
	args := m.Called(key)
	return args.String(0), args.Error(1)
}

func (m *mockSource) ColorPlaceholder(ctx context.Context, key string) (string, error) {
	args := m.Called(key)
	return args.String(0), args.Error(1)
}

var _ = Describe("Placeholder Strategy", func() {
	DescribeTable("ShouldPrioritize",
		func(info network.Info, expected bool) {
			Expect(placeholder.ShouldPrioritize(info)).To(Equal(expected))
		},
		Entry("slow-2g", network.Online(network.TypeSlow2G), true),
		Entry("2g", network.Online(network.Type2G), true),
		Entry("3g", network.Online(network.Type3G), false),
		Entry("4g", network.Online(network.Type4G), false),
		Entry("offline", network.Offline(), false),
	)

	Describe("Fetch", func() {
		var source *mockSource
		var strategy *placeholder.Strategy

		BeforeEach(func() {
			source = &mockSource{}
			strategy = placeholder.NewStrategy(source)
		})

		It("skips the source entirely when not prioritized", func() {
			p := strategy.Fetch(context.Background(), "hero-banner", false)
			Expect(p.Empty()).To(BeTrue())
			source.AssertNotCalled(GinkgoT(), "TinyPlaceholder", mock.Anything)
			source.AssertNotCalled(GinkgoT(), "ColorPlaceholder", mock.Anything)
		})

		It("returns both placeholders when prioritized", func() {
			source.On("TinyPlaceholder", "hero-banner").Return("data:image/webp;base64,AAA", nil).Once()
			source.On("ColorPlaceholder", "hero-banner").Return("#aabbcc", nil).Once()

			p := strategy.Fetch(context.Background(), "hero-banner", true)
			Expect(p.Tiny).To(Equal("data:image/webp;base64,AAA"))
			Expect(p.Color).To(Equal("#aabbcc"))
			source.AssertExpectations(GinkgoT())
		})

		It("degrades a failed fetch to an absent placeholder without retrying", func() {
			source.On("TinyPlaceholder", "logo").Return("", errors.New("timeout")).Once()
			source.On("ColorPlaceholder", "logo").Return("#000000", nil).Once()

			p := strategy.Fetch(context.Background(), "logo", true)
			Expect(p.Tiny).To(BeEmpty())
			Expect(p.Color).To(Equal("#000000"))
			source.AssertNumberOfCalls(GinkgoT(), "TinyPlaceholder", 1)
		})
	})
})
