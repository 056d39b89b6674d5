//go:build integration

package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go-treewiki/internal/auth"
	"go-treewiki/internal/config"
	"go-treewiki/internal/data"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/markdown"
	"go-treewiki/internal/middleware"
	"go-treewiki/internal/search"
	"go-treewiki/internal/service"
	"go-treewiki/internal/session"
	"go-treewiki/internal/view"
	"go-treewiki/web"

	"github.com/go-chi/chi/v5"
)

const editorHeader = "X-Test-Subject"

// testApp holds all the components for an integration test.
type testApp struct {
	Router *chi.Mux
	Wiki   *service.WikiService
}

// setupIntegrationTest initializes a full application stack against
// in-memory databases.
func setupIntegrationTest(t *testing.T) (*testApp, func()) {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()

	db, err := data.NewDB(config.DBConfig{Driver: data.DriverSQLite3, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := data.ApplyMigrations(db, data.DriverSQLite3); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	index, err := search.New(config.SearchConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open search index: %v", err)
	}

	wiki := service.NewWikiService(
		data.NewSQLPageRepository(db),
		data.NewSQLRevisionRepository(db),
		index,
		markdown.New(config.MarkdownConfig{Tables: true}),
		log,
	)
	if err := wiki.Bootstrap(ctx); err != nil {
		t.Fatalf("Failed to bootstrap wiki: %v", err)
	}

	enforcer, err := auth.NewMemoryEnforcer()
	if err != nil {
		t.Fatalf("Failed to create enforcer: %v", err)
	}
	auth.SeedDefaultPolicies(enforcer, log)
	if _, err := auth.AssignRole(enforcer, "sub-editor", "ed@example.com", []string{"ed@example.com"}); err != nil {
		t.Fatalf("Failed to assign role: %v", err)
	}

	sm := session.New(db, data.DriverSQLite3, time.Hour, false)
	v, err := view.New(web.TemplateFS)
	if err != nil {
		t.Fatalf("Failed to parse templates: %v", err)
	}

	// Requests carrying editorHeader act as that subject.
	authz := middleware.Authorizer(enforcer, sm, log)
	signIn := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sub := r.Header.Get(editorHeader); sub != "" {
				sm.Put(r.Context(), session.KeySubject, sub)
			}
			authz(next).ServeHTTP(w, r)
		})
	}

	router := NewRouter(Router{
		Log:      log,
		View:     v,
		Sessions: sm,
		Authz:    signIn,
		Limiter:  middleware.NewRateLimiter(100, 100, time.Minute),
		StaticFS: web.StaticFS,
		Pages:    NewPageHandler(wiki, v, log),
		Search:   NewSearchHandler(wiki, v, log),
		Seo:      NewSeoHandler(wiki, "http://wiki.test", log),
	})

	teardown := func() {
		index.Close()
		db.Close()
	}
	return &testApp{Router: router, Wiki: wiki}, teardown
}

func (app *testApp) do(method, path, subject string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if subject != "" {
		req.Header.Set(editorHeader, subject)
	}
	rr := httptest.NewRecorder()
	app.Router.ServeHTTP(rr, req)
	return rr
}

func TestHandlers_Integration(t *testing.T) {
	app, teardown := setupIntegrationTest(t)
	defer teardown()

	testCases := []struct {
		name       string
		method     string
		path       string
		subject    string
		wantStatus int
		wantBody   string
	}{
		{"root page", http.MethodGet, "/pages/", "", http.StatusOK, "Default root"},
		{"root redirect", http.MethodGet, "/", "", http.StatusFound, ""},
		{"missing page", http.MethodGet, "/pages/nope", "", http.StatusNotFound, "Page not found"},
		{"root history", http.MethodGet, "/history/pages/", "", http.StatusOK, ""},
		{"root raw", http.MethodGet, "/raw/pages/", "", http.StatusOK, "Default root"},
		{"anonymous edit form", http.MethodGet, "/edit/pages/", "", http.StatusForbidden, ""},
		{"anonymous edit", http.MethodPost, "/edit/pages/", "", http.StatusForbidden, ""},
		{"anonymous delete", http.MethodPost, "/delete/pages/", "", http.StatusForbidden, ""},
		{"editor edit form", http.MethodGet, "/edit/pages/", "sub-editor", http.StatusOK, "Default root"},
		{"editor deletes root", http.MethodPost, "/delete/pages/", "sub-editor", http.StatusForbidden, ""},
		{"reader edit form", http.MethodGet, "/edit/pages/", "sub-reader", http.StatusForbidden, ""},
		{"search", http.MethodGet, "/search?query=default", "", http.StatusOK, "<mark>"},
		{"robots", http.MethodGet, "/robots.txt", "", http.StatusOK, "Sitemap: http://wiki.test/sitemap.xml"},
		{"sitemap", http.MethodGet, "/sitemap.xml", "", http.StatusOK, "http://wiki.test/pages/"},
		{"stylesheet", http.MethodGet, "/static/css/style.css", "", http.StatusOK, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := app.do(tc.method, tc.path, tc.subject, nil)

			if rr.Code != tc.wantStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tc.wantStatus)
			}
			if tc.wantBody != "" && !strings.Contains(rr.Body.String(), tc.wantBody) {
				t.Errorf("handler returned unexpected body: got %q, want to contain %q", rr.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestHandlers_EditorLifecycle(t *testing.T) {
	app, teardown := setupIntegrationTest(t)
	defer teardown()
	const editor = "sub-editor"

	rr := app.do(http.MethodPost, "/create/pages/", editor, url.Values{"title": {"Getting Started"}, "body": {"first steps"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("create: expected 303, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/pages/getting-started" {
		t.Fatalf("create: unexpected redirect %q", loc)
	}

	rr = app.do(http.MethodPost, "/create/pages/", editor, url.Values{"title": {"Again"}, "slug": {"getting-started"}})
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate create: expected 409, got %d", rr.Code)
	}

	rr = app.do(http.MethodPost, "/create/pages/getting-started", editor, url.Values{"title": {"Install"}, "slug": {"install"}, "body": {"run the installer"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("child create: expected 303, got %d", rr.Code)
	}

	rr = app.do(http.MethodGet, "/pages/getting-started/install", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "run the installer") {
		t.Fatalf("view child: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `href="/pages/getting-started/install"`) {
		t.Error("expected the nav tree to link the active page")
	}

	rr = app.do(http.MethodPost, "/edit/pages/getting-started", editor, url.Values{"title": {"Start"}, "slug": {"start"}, "body": {"second steps"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("edit: expected 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/pages/start" {
		t.Errorf("edit: unexpected redirect %q", loc)
	}

	rr = app.do(http.MethodGet, "/pages/start/install", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("renamed child: expected 200, got %d", rr.Code)
	}
	rr = app.do(http.MethodGet, "/pages/start?rev=0", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "first steps") {
		t.Errorf("old revision: got %d", rr.Code)
	}

	hits, err := app.Wiki.Search(context.Background(), "installer")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Path != "start/install" {
		t.Errorf("expected the renamed path in the index, got %+v", hits)
	}

	rr = app.do(http.MethodPost, "/delete/pages/start", editor, nil)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("delete: expected 303, got %d", rr.Code)
	}
	for _, path := range []string{"/pages/start", "/pages/start/install"} {
		if rr := app.do(http.MethodGet, path, "", nil); rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404 after delete, got %d", path, rr.Code)
		}
	}
}

func TestHandlers_OnlyRevisionStaysEditable(t *testing.T) {
	app, teardown := setupIntegrationTest(t)
	defer teardown()
	const editor = "sub-editor"

	rr := app.do(http.MethodPost, "/create/pages/", editor, url.Values{"title": {"A"}, "slug": {"a"}, "body": {"only body"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("create: expected 303, got %d", rr.Code)
	}

	rr = app.do(http.MethodPost, "/delete-revision/pages/a?rev=0", editor, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("delete only revision: expected 409, got %d", rr.Code)
	}

	testCases := []struct {
		path     string
		wantBody string
	}{
		{"/pages/a", "only body"},
		{"/edit/pages/a", "only body"},
		{"/history/pages/a", ""},
	}
	for _, tc := range testCases {
		rr := app.do(http.MethodGet, tc.path, editor, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tc.path, rr.Code)
		}
		if tc.wantBody != "" && !strings.Contains(rr.Body.String(), tc.wantBody) {
			t.Errorf("%s: expected body to contain %q", tc.path, tc.wantBody)
		}
	}
}
