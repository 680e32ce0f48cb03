package image_test

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

	"github.com/lissto-dev/imagecache/internal/api/image"
	"github.com/lissto-dev/imagecache/internal/middleware"
	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/coordinator"
	"github.com/lissto-dev/imagecache/pkg/events"
	"github.com/lissto-dev/imagecache/pkg/network"
	"github.com/lissto-dev/imagecache/pkg/remote"
	"github.com/lissto-dev/imagecache/pkg/storagepath"
)

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

type fakeStore struct {
	calls int
	urls  map[string]string
}

func (f *fakeStore) PublicURL(_ context.Context, path string) (string, error) {
	f.calls++
	if u, ok := f.urls[path]; ok {
		return u, nil
	}
	return "", remote.ErrObjectNotFound
}

func (f *fakeStore) ListBuckets(context.Context) ([]string, error) { return nil, nil }

func (f *fakeStore) CreateBucket(context.Context, string, bool) error { return nil }

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

var _ = Describe("Image handlers", func() {
	var (
		e        *echo.Echo
		store    *fakeStore
		bus      *events.Bus
		sessions *cache.Sessions
	)

	BeforeEach(func() {
		store = &fakeStore{urls: map[string]string{
			"images/hero.webp": "https://cdn.example.com/images/hero.webp",
		}}
		bus = events.NewBus()
		sessions = cache.NewSessions(network.Static(network.Online(network.Type4G)))

		coord, err := coordinator.New(coordinator.Config{
			Normalizer: storagepath.New("images"),
			Remote:     store,
			Bus:        bus,
			Layers:     []coordinator.Layer{coordinator.NewSessionLayer(sessions)},
		})
		Expect(err).NotTo(HaveOccurred())

		e = echo.New()
		e.Validator = &testValidator{validator: validator.New()}
		h := image.NewHandler(coord, sessions)
		image.RegisterRoutes(e.Group("/api/v1", middleware.ClientContextMiddleware()), h)
		image.RegisterAdminRoutes(e.Group("/api/v1/admin"), h)
	})

	serve := func(req *http.Request) (*httptest.ResponseRecorder, envelope) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		var body envelope
		if rec.Body.Len() > 0 {
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		}
		return rec, body
	}

	Describe("GET /images/*", func() {
		It("resolves a key and caches it for the session", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/images/hero", nil)
			req.Header.Set(middleware.HeaderSessionID, "s1")
			rec, body := serve(req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var data map[string]interface{}
			Expect(json.Unmarshal(body.Data, &data)).To(Succeed())
			Expect(data["url"]).To(Equal("https://cdn.example.com/images/hero.webp"))
			Expect(data["source"]).To(Equal(coordinator.SourceRemote))
			Expect(data).NotTo(HaveKey("plan"))

			req = httptest.NewRequest(http.MethodGet, "/api/v1/images/hero", nil)
			req.Header.Set(middleware.HeaderSessionID, "s1")
			_, body = serve(req)
			Expect(json.Unmarshal(body.Data, &data)).To(Succeed())
			Expect(data["source"]).To(Equal("memory"))
			Expect(store.calls).To(Equal(1))
			Expect(sessions.Len()).To(Equal(1))
		})

		It("answers with the fallback URL when the object is missing", func() {
			rec, body := serve(httptest.NewRequest(http.MethodGet, "/api/v1/images/missing", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var data map[string]interface{}
			Expect(json.Unmarshal(body.Data, &data)).To(Succeed())
			Expect(data["fallback"]).To(BeTrue())
			Expect(data["url"]).To(Equal(coordinator.DefaultFallbackURL))
			Expect(data["error"]).To(ContainSubstring("not found"))
		})

		It("includes the loading plan on request", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/images/hero?plan=true", nil)
			req.Header.Set(network.HeaderECT, "2g")
			_, body := serve(req)

			var data map[string]interface{}
			Expect(json.Unmarshal(body.Data, &data)).To(Succeed())
			Expect(data).To(HaveKey("plan"))
			plan := data["plan"].(map[string]interface{})
			Expect(plan["lower_quality"]).To(BeTrue())
		})
	})

	Describe("POST /images/invalidate", func() {
		var received []events.Event

		BeforeEach(func() {
			received = nil
			bus.Subscribe("test", func(ev events.Event) { received = append(received, ev) })
		})

		post := func(body string) (*httptest.ResponseRecorder, envelope) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/images/invalidate", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			return serve(req)
		}

		It("invalidates a single key", func() {
			rec, body := post(`{"key":"hero"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body.Message).To(Equal("Image invalidated"))
			Expect(received).To(HaveLen(1))
			Expect(received[0].Type).To(Equal(events.TypeInvalidate))
			Expect(received[0].Key).To(Equal("hero"))
		})

		It("clears everything without a key", func() {
			rec, _ := post(`{}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(received).To(HaveLen(1))
			Expect(received[0].Type).To(Equal(events.TypeClear))
		})

		It("rejects malformed bodies", func() {
			rec, body := post(`{"key":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body.Success).To(BeFalse())
			Expect(received).To(BeEmpty())
		})
	})

	Describe("DELETE /sessions/:id", func() {
		It("drops the session cache", func() {
			sessions.Get("s1")
			rec, _ := serve(httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/s1", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(sessions.Len()).To(Equal(0))
		})
	})
})
