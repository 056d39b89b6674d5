//go:build unit

package handler

import (
	"context"
	"fmt"
	"html/template"
	"net/http"

	"go-treewiki/internal/auth"
	"go-treewiki/internal/data"
	"go-treewiki/internal/search"
	"go-treewiki/internal/service"
	"go-treewiki/internal/session"

	"golang.org/x/oauth2"
)

// mockWiki is a mock implementation of the service.WikiServicer interface.
type mockWiki struct {
	viewPage       func(path string, ordinal *int) (*service.PageView, error)
	createPage     func(parent string, in service.PageInput) (*data.Page, string, error)
	editPage       func(path string, in service.PageInput) (*data.Page, string, error)
	deletePage     func(path string) error
	deleteRevision func(path string, ordinal int) error
	history        func(path string) (*service.PageHistory, error)
	search         func(query string) ([]search.Hit, error)
	rawMarkdown    func(path string, ordinal *int) (*service.RawPage, error)
	listPages      func() ([]service.PageSummary, error)

	lastInput service.PageInput
}

var _ service.WikiServicer = (*mockWiki)(nil)

func (m *mockWiki) ViewPage(ctx context.Context, path string, ordinal *int) (*service.PageView, error) {
	if m.viewPage == nil {
		return nil, data.ErrPageNotFound
	}
	return m.viewPage(path, ordinal)
}

func (m *mockWiki) CreatePage(ctx context.Context, parent string, in service.PageInput) (*data.Page, string, error) {
	m.lastInput = in
	return m.createPage(parent, in)
}

func (m *mockWiki) EditPage(ctx context.Context, path string, in service.PageInput) (*data.Page, string, error) {
	m.lastInput = in
	return m.editPage(path, in)
}

func (m *mockWiki) DeletePage(ctx context.Context, path string) error {
	return m.deletePage(path)
}

func (m *mockWiki) DeleteRevision(ctx context.Context, path string, ordinal int) error {
	return m.deleteRevision(path, ordinal)
}

func (m *mockWiki) History(ctx context.Context, path string) (*service.PageHistory, error) {
	return m.history(path)
}

func (m *mockWiki) Search(ctx context.Context, query string) ([]search.Hit, error) {
	if m.search == nil {
		return nil, nil
	}
	return m.search(query)
}

func (m *mockWiki) RawMarkdown(ctx context.Context, path string, ordinal *int) (*service.RawPage, error) {
	return m.rawMarkdown(path, ordinal)
}

func (m *mockWiki) ListPages(ctx context.Context) ([]service.PageSummary, error) {
	return m.listPages()
}

func (m *mockWiki) Nav(ctx context.Context, path string) (template.HTML, error) {
	return template.HTML("<ul><li>nav</li></ul>"), nil
}

// mockSessionManager is a mock implementation of the session.Manager interface.
type mockSessionManager struct {
	values        map[string]interface{}
	destroyCalled bool
	renewCalled   bool
}

// Ensure mockSessionManager implements the session.Manager interface.
var _ session.Manager = (*mockSessionManager)(nil)

func newMockSessionManager() *mockSessionManager {
	return &mockSessionManager{values: map[string]interface{}{}}
}

func (m *mockSessionManager) LoadAndSave(next http.Handler) http.Handler { return next }
func (m *mockSessionManager) Put(ctx context.Context, key string, val interface{}) {
	m.values[key] = val
}
func (m *mockSessionManager) GetString(ctx context.Context, key string) string {
	if v, ok := m.values[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}
func (m *mockSessionManager) PopString(ctx context.Context, key string) string {
	v := m.GetString(ctx, key)
	delete(m.values, key)
	return v
}
func (m *mockSessionManager) RenewToken(ctx context.Context) error {
	m.renewCalled = true
	return nil
}
func (m *mockSessionManager) Remove(ctx context.Context, key string) { delete(m.values, key) }
func (m *mockSessionManager) Destroy(ctx context.Context) error {
	m.destroyCalled = true
	m.values = map[string]interface{}{}
	return nil
}

// mockAuthenticator is a mock implementation of the Authenticator interface.
type mockAuthenticator struct {
	claims *auth.Claims
	err    error
}

var _ Authenticator = (*mockAuthenticator)(nil)

func (m *mockAuthenticator) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockAuthenticator) Exchange(ctx context.Context, code string) (*auth.Claims, error) {
	return m.claims, m.err
}
