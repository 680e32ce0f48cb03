package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/imagecache/internal/middleware"
	"github.com/lissto-dev/imagecache/pkg/auth"
	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/config"
	"github.com/lissto-dev/imagecache/pkg/network"
)

var _ = Describe("Middleware", func() {
	var e *echo.Echo

	BeforeEach(func() {
		e = echo.New()
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	Describe("API key auth", func() {
		keys := []config.APIKey{
			{Name: "ops", Role: "admin", APIKey: "admin-key-0123456789"},
			{Name: "site", Role: "user", APIKey: "user-key-0123456789"},
		}

		BeforeEach(func() {
			g := e.Group("/admin", middleware.APIKeyMiddleware(keys), middleware.RequireRole(auth.Admin))
			g.POST("/flush", func(c echo.Context) error {
				user, _ := middleware.GetUserFromContext(c)
				return c.String(http.StatusOK, user.Name)
			})
		})

		DescribeTable("access",
			func(key string, status int) {
				req := httptest.NewRequest(http.MethodPost, "/admin/flush", nil)
				if key != "" {
					req.Header.Set(middleware.HeaderAPIKey, key)
				}
				Expect(serve(req).Code).To(Equal(status))
			},
			Entry("missing key", "", http.StatusUnauthorized),
			Entry("unknown key", "nope", http.StatusUnauthorized),
			Entry("insufficient role", "user-key-0123456789", http.StatusForbidden),
			Entry("admin", "admin-key-0123456789", http.StatusOK),
		)
	})

	Describe("ClientContextMiddleware", func() {
		It("attaches network hints and the session", func() {
			var info network.Info
			var session string
			e.Use(middleware.ClientContextMiddleware())
			e.GET("/probe", func(c echo.Context) error {
				info = network.InfoFrom(c.Request().Context(), nil)
				session = cache.SessionIDFrom(c.Request().Context())
				return c.NoContent(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			req.Header.Set(network.HeaderECT, "2g")
			req.Header.Set(network.HeaderSaveData, "on")
			req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: "abc"})
			Expect(serve(req).Code).To(Equal(http.StatusNoContent))

			Expect(info.EffectiveType).To(Equal(network.Type2G))
			Expect(info.SaveData).To(BeTrue())
			Expect(session).To(Equal("abc"))
		})

		It("falls back to the default session", func() {
			var session string
			e.Use(middleware.ClientContextMiddleware())
			e.GET("/probe", func(c echo.Context) error {
				session = cache.SessionIDFrom(c.Request().Context())
				return c.NoContent(http.StatusNoContent)
			})

			serve(httptest.NewRequest(http.MethodGet, "/probe", nil))
			Expect(session).To(Equal(cache.DefaultSessionID))
		})
	})

	Describe("headers", func() {
		It("sets instance and cache version headers", func() {
			e.Use(middleware.APIIDMiddleware("instance-1"))
			e.Use(middleware.VersionMiddleware(func() string { return "v4" }))
			e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

			rec := serve(httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(rec.Header().Get(middleware.HeaderInstanceID)).To(Equal("instance-1"))
			Expect(rec.Header().Get(middleware.HeaderCacheVersion)).To(Equal("v4"))
		})
	})
})
