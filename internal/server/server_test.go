package server_test

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
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/lissto-dev/imagecache/internal/middleware"
	"github.com/lissto-dev/imagecache/internal/server"
	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/config"
	"github.com/lissto-dev/imagecache/pkg/coordinator"
	"github.com/lissto-dev/imagecache/pkg/k8s"
	"github.com/lissto-dev/imagecache/pkg/network"
	"github.com/lissto-dev/imagecache/pkg/storagepath"
	"github.com/lissto-dev/imagecache/pkg/version"
)

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

type staticStore struct{}

func (staticStore) PublicURL(_ context.Context, path string) (string, error) {
	return "https://cdn.example.com/" + path, nil
}

func (staticStore) ListBuckets(context.Context) ([]string, error) { return nil, nil }

func (staticStore) CreateBucket(context.Context, string, bool) error { return nil }

const (
	adminKey  = "admin-key-0123456789"
	editorKey = "editor-key-0123456789"
)

var _ = Describe("Server", func() {
	var (
		e   *echo.Echo
		srv *server.Server
	)

	BeforeEach(func() {
		sessions := cache.NewSessions(network.Static(network.Online(network.Type4G)))
		coord, err := coordinator.New(coordinator.Config{
			Normalizer: storagepath.New("images"),
			Remote:     staticStore{},
			Versions:   version.NewStore(version.NewMemoryBackend()),
			Layers:     []coordinator.Layer{coordinator.NewSessionLayer(sessions)},
		})
		Expect(err).NotTo(HaveOccurred())

		e = echo.New()
		e.Validator = &testValidator{validator: validator.New()}
		srv = server.New(e,
			[]config.APIKey{
				{Name: "ops", Role: "admin", APIKey: adminKey},
				{Name: "content", Role: "editor", APIKey: editorKey},
			},
			server.Deps{
				Coordinator:   coord,
				Sessions:      sessions,
				K8sClient:     k8s.Wrap(fake.NewClientBuilder().Build()),
				Namespace:     "imagecache",
				APIKeysSecret: "imagecache-api-keys",
			},
			"instance-1",
			"https://images.example.com",
			&server.VersionInfo{Version: "test"},
		)
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	Describe("health", func() {
		It("answers probes without a body", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/health", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.Len()).To(BeZero())
		})

		It("reports instance details on request", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/health?info=true", nil))
			var info map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &info)).To(Succeed())
			Expect(info).To(HaveKeyWithValue("instance_id", "instance-1"))
			Expect(info).To(HaveKeyWithValue("cache_version", version.DefaultVersion))
			Expect(info).To(HaveKeyWithValue("worker", "disabled"))
		})
	})

	It("resolves images publicly and stamps the cache version", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/images/hero", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get(middleware.HeaderCacheVersion)).To(Equal(version.DefaultVersion))
		Expect(rec.Body.String()).To(ContainSubstring("https://cdn.example.com/images/hero.webp"))
	})

	It("does not serve image bytes without a worker", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "/images/hero.webp", nil))
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	Describe("admin routes", func() {
		setVersion := func(key string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/cache/version", strings.NewReader(`{"version":"v9"}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			if key != "" {
				req.Header.Set(middleware.HeaderAPIKey, key)
			}
			return serve(req)
		}

		It("require an API key", func() {
			Expect(setVersion("").Code).To(Equal(http.StatusUnauthorized))
		})

		It("accept the admin key", func() {
			Expect(setVersion(adminKey).Code).To(Equal(http.StatusOK))
			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/cache/version", nil))
			Expect(rec.Header().Get(middleware.HeaderCacheVersion)).To(Equal("v9"))
		})

		It("let editors invalidate but not change the version", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/images/invalidate", strings.NewReader(`{"key":"hero"}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req.Header.Set(middleware.HeaderAPIKey, editorKey)
			Expect(serve(req).Code).To(Equal(http.StatusOK))

			Expect(setVersion(editorKey).Code).To(Equal(http.StatusForbidden))
		})

		It("pick up rotated keys", func() {
			srv.UpdateAPIKeys([]config.APIKey{{Name: "new", Role: "admin", APIKey: "rotated-key-0123456789"}})
			Expect(setVersion(adminKey).Code).To(Equal(http.StatusUnauthorized))
			Expect(setVersion("rotated-key-0123456789").Code).To(Equal(http.StatusOK))
		})
	})

	It("describes the calling key", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/user/me", nil)
		req.Header.Set(middleware.HeaderAPIKey, adminKey)
		rec := serve(req)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"role":"admin"`))
	})

	It("creates API keys that work immediately", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/api-keys", strings.NewReader(`{"name":"site","role":"user"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(middleware.HeaderAPIKey, adminKey)
		rec := serve(req)
		Expect(rec.Code).To(Equal(http.StatusCreated))

		var body struct {
			Data struct {
				APIKey string `json:"api_key"`
			} `json:"data"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Data.APIKey).To(HavePrefix("user_"))

		req = httptest.NewRequest(http.MethodGet, "/api/v1/user", nil)
		req.Header.Set(middleware.HeaderAPIKey, body.Data.APIKey)
		rec = serve(req)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"name":"site"`))

		Expect(srv.GetAPIKeys()).To(HaveLen(3))
	})
})
