package cacheversion_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/imagecache/internal/api/cacheversion"
	"github.com/lissto-dev/imagecache/pkg/coordinator"
	"github.com/lissto-dev/imagecache/pkg/events"
	"github.com/lissto-dev/imagecache/pkg/storagepath"
	"github.com/lissto-dev/imagecache/pkg/version"
)

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

type nopStore struct{}

func (nopStore) PublicURL(context.Context, string) (string, error) { return "", nil }

func (nopStore) ListBuckets(context.Context) ([]string, error) { return nil, nil }

func (nopStore) CreateBucket(context.Context, string, bool) error { return nil }

var _ = Describe("Cache version handlers", func() {
	var (
		e       *echo.Echo
		backend *version.MemoryBackend
		bus     *events.Bus
	)

	BeforeEach(func() {
		backend = version.NewMemoryBackend()
		bus = events.NewBus()
		coord, err := coordinator.New(coordinator.Config{
			Normalizer: storagepath.New("images"),
			Remote:     nopStore{},
			Bus:        bus,
			Versions:   version.NewStore(backend),
		})
		Expect(err).NotTo(HaveOccurred())

		e = echo.New()
		e.Validator = &testValidator{validator: validator.New()}
		h := cacheversion.NewHandler(coord)
		cacheversion.RegisterRoutes(e.Group("/api/v1"), h)
		cacheversion.RegisterAdminRoutes(e.Group("/api/v1/admin"), h)
	})

	versionOf := func(rec *httptest.ResponseRecorder) string {
		var body struct {
			Data struct {
				Version string `json:"version"`
			} `json:"data"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body.Data.Version
	}

	put := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/cache/version", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	It("reports the default version", func() {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/version", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(versionOf(rec)).To(Equal(version.DefaultVersion))
	})

	It("persists a new version and announces it", func() {
		var received []events.Event
		bus.Subscribe("test", func(ev events.Event) { received = append(received, ev) })

		rec := put(`{"version":"v2"}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(versionOf(rec)).To(Equal("v2"))

		stored, err := version.NewStore(backend).Get(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal("v2"))
		Expect(received).NotTo(BeEmpty())
		Expect(received[len(received)-1].Type).To(Equal(events.TypeUpdate))
	})

	DescribeTable("rejects invalid versions",
		func(body string) {
			Expect(put(body).Code).To(Equal(http.StatusBadRequest))
		},
		Entry("missing", `{}`),
		Entry("blank", `{"version":"   "}`),
		Entry("too long", `{"version":"`+strings.Repeat("v", 65)+`"}`),
		Entry("malformed", `{"version":`),
	)
})
