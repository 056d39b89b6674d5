package handler

import (
	"io/fs"
	"net/http"

	"go-treewiki/internal/logger"
	"go-treewiki/internal/middleware"
	"go-treewiki/internal/session"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router bundles everything NewRouter wires together.
type Router struct {
	Log      logger.Logger
	View     middleware.Renderer
	Sessions session.Manager
	Authz    func(http.Handler) http.Handler
	Limiter  *middleware.RateLimiter
	StaticFS fs.FS

	Pages  *PageHandler
	Search *SearchHandler
	Auth   *AuthHandler // nil when no identity provider is configured
	Seo    *SeoHandler
}

// NewRouter creates and configures a new chi router.
func NewRouter(rt Router) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(rt.Log))
	r.Use(chimw.Recoverer)

	appHandler := middleware.Error(rt.Log, rt.View)

	// Ancillary routes
	r.Get("/robots.txt", rt.Seo.robotsHandler)
	r.Get("/sitemap.xml", rt.Seo.sitemapHandler)
	r.Handle("/metrics", promhttp.Handler())
	if rt.StaticFS != nil {
		r.Handle("/static/*", http.FileServer(http.FS(rt.StaticFS)))
	}

	r.Group(func(r chi.Router) {
		r.Use(rt.Sessions.LoadAndSave)

		// Authentication routes
		if rt.Auth != nil {
			r.With(rt.Limiter.Limit).Get("/auth/login", rt.Auth.handleLogin)
			r.Get("/auth/callback", rt.Auth.handleCallback)
			r.Get("/auth/logout", rt.Auth.handleLogout)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(rt.Authz)

			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/pages/", http.StatusFound)
			})
			r.Get("/pages", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/pages/", http.StatusMovedPermanently)
			})

			r.Method(http.MethodGet, "/pages/*", appHandler(rt.Pages.viewHandler))
			r.Method(http.MethodGet, "/history/pages/*", appHandler(rt.Pages.historyHandler))
			r.Method(http.MethodGet, "/raw/pages/*", appHandler(rt.Pages.rawHandler))
			r.Method(http.MethodGet, "/create/pages/*", appHandler(rt.Pages.createFormHandler))
			r.Method(http.MethodPost, "/create/pages/*", appHandler(rt.Pages.createHandler))
			r.Method(http.MethodGet, "/edit/pages/*", appHandler(rt.Pages.editFormHandler))
			r.Method(http.MethodPost, "/edit/pages/*", appHandler(rt.Pages.editHandler))
			r.Method(http.MethodPost, "/delete/pages/*", appHandler(rt.Pages.deleteHandler))
			r.Method(http.MethodPost, "/delete-revision/pages/*", appHandler(rt.Pages.deleteRevisionHandler))

			r.With(rt.Limiter.Limit).Method(http.MethodGet, "/search", appHandler(rt.Search.searchHandler))
		})
	})

	return r
}
