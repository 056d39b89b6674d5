//go:build integration

package service

import (
	"context"
	"strings"
	"testing"

	"go-treewiki/internal/config"
	"go-treewiki/internal/data"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/markdown"
	"go-treewiki/internal/pathcodec"
	"go-treewiki/internal/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stores struct {
	pages *data.SQLPageRepository
	revs  *data.SQLRevisionRepository
	index *search.Index
	svc   *WikiService
}

func setupService(t *testing.T) *stores {
	t.Helper()

	db, err := data.NewDB(config.DBConfig{Driver: data.DriverSQLite3, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, data.ApplyMigrations(db, data.DriverSQLite3))

	index, err := search.New(config.SearchConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	pages := data.NewSQLPageRepository(db)
	revs := data.NewSQLRevisionRepository(db)
	renderer := markdown.New(config.MarkdownConfig{Tables: true})
	svc := NewWikiService(pages, revs, index, renderer, logger.Nop())

	require.NoError(t, svc.Bootstrap(context.Background()))
	return &stores{pages: pages, revs: revs, index: index, svc: svc}
}

func TestBootstrap_CreatesRootOnce(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	require.NoError(t, s.svc.Bootstrap(ctx))

	count, err := s.pages.CountPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	view, err := s.svc.ViewPage(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRootBody, view.Revision.Markdown)
	assert.Equal(t, "<p>Default root</p>\n", view.Revision.HTML)

	path, err := pathcodec.New(s.pages).PathOf(ctx, view.Page.ID)
	require.NoError(t, err)
	assert.Equal(t, "", path)
}

func TestScenarioA_CreateAndResolve(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	_, path, err := s.svc.CreatePage(ctx, "", PageInput{Title: "Intro", Slug: "intro", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "intro", path)

	page, err := pathcodec.New(s.pages).Resolve(ctx, "intro")
	require.NoError(t, err)
	assert.Equal(t, "Intro", page.Title)
}

func TestScenarioB_EditHistory(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	page, _, err := s.svc.CreatePage(ctx, "", PageInput{Title: "Intro", Slug: "intro", Body: "hello"})
	require.NoError(t, err)
	for _, body := range []string{"v1", "v2"} {
		_, _, err := s.svc.EditPage(ctx, "intro", PageInput{Title: "Intro", Body: body})
		require.NoError(t, err)
	}

	latest, err := s.revs.Nth(ctx, page.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.Markdown)

	// The creation body is ordinal 0; the edits follow it.
	for ordinal, want := range []string{"hello", "v1", "v2"} {
		rev, err := s.revs.Nth(ctx, page.ID, &ordinal)
		require.NoError(t, err)
		assert.Equal(t, want, rev.Markdown)
	}

	history, err := s.svc.History(ctx, "intro")
	require.NoError(t, err)
	assert.Len(t, history.Revisions, 3)

	old := 1
	view, err := s.svc.ViewPage(ctx, "intro", &old)
	require.NoError(t, err)
	assert.Equal(t, "v1", view.Revision.Markdown)
	assert.False(t, view.IsLatest)
}

func TestScenarioC_SearchFollowsEdits(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	_, _, err := s.svc.CreatePage(ctx, "", PageInput{Title: "Intro", Slug: "intro", Body: "a shiny gadget"})
	require.NoError(t, err)

	hits, err := s.svc.Search(ctx, "gadget")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "intro", hits[0].Path)

	_, _, err = s.svc.EditPage(ctx, "intro", PageInput{Title: "Intro", Body: "nothing to see"})
	require.NoError(t, err)

	hits, err = s.svc.Search(ctx, "gadget")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScenarioD_NavExpandsActiveBranch(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	for _, step := range []struct{ parent, slug string }{{"", "a"}, {"a", "b"}, {"a/b", "c"}} {
		_, _, err := s.svc.CreatePage(ctx, step.parent, PageInput{Title: strings.ToUpper(step.slug), Slug: step.slug, Body: step.slug})
		require.NoError(t, err)
	}

	view, err := s.svc.ViewPage(ctx, "a/b", nil)
	require.NoError(t, err)
	nav := string(view.Nav)

	assert.Contains(t, nav, `<a href="/pages/a/">a/</a><ul>`)
	assert.Contains(t, nav, `<a href="/pages/a/b/">b/</a><ul>`)
	assert.Contains(t, nav, `<a href="/pages/a/b/c">c</a></li>`)
	// Outer list plus root, a and b.
	assert.Equal(t, 4, strings.Count(nav, "<ul>"))
}

func TestDeletePage_RemovesSubtreeEverywhere(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	a, _, err := s.svc.CreatePage(ctx, "", PageInput{Title: "A", Slug: "a", Body: "widget alpha"})
	require.NoError(t, err)
	b, _, err := s.svc.CreatePage(ctx, "a", PageInput{Title: "B", Slug: "b", Body: "widget beta"})
	require.NoError(t, err)
	_, _, err = s.svc.CreatePage(ctx, "", PageInput{Title: "Keep", Slug: "keep", Body: "widget kept"})
	require.NoError(t, err)

	require.NoError(t, s.svc.DeletePage(ctx, "a"))

	for _, id := range []int64{a.ID, b.ID} {
		_, err := s.pages.GetPageByID(ctx, id)
		assert.ErrorIs(t, err, data.ErrPageNotFound)
		n, err := s.revs.CountByPage(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	hits, err := s.svc.Search(ctx, "widget")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "keep", hits[0].Path)
}

func TestDeleteRoot_MutatesNothing(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	_, _, err := s.svc.CreatePage(ctx, "", PageInput{Title: "A", Slug: "a", Body: "x"})
	require.NoError(t, err)
	before, err := s.index.Count(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, s.svc.DeletePage(ctx, ""), data.ErrRootDeletionForbidden)

	count, err := s.pages.CountPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	after, err := s.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEditPage_RenameReindexesDescendants(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	_, _, err := s.svc.CreatePage(ctx, "", PageInput{Title: "A", Slug: "a", Body: "parent"})
	require.NoError(t, err)
	_, _, err = s.svc.CreatePage(ctx, "a", PageInput{Title: "B", Slug: "b", Body: "sprocket"})
	require.NoError(t, err)

	_, path, err := s.svc.EditPage(ctx, "a", PageInput{Title: "A", Slug: "renamed", Body: "parent"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", path)

	hits, err := s.svc.Search(ctx, "sprocket")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "renamed/b", hits[0].Path)

	_, err = s.svc.ViewPage(ctx, "renamed/b", nil)
	assert.NoError(t, err)
	_, err = s.svc.ViewPage(ctx, "a/b", nil)
	assert.ErrorIs(t, err, data.ErrPageNotFound)
}

func TestReindex_RestoresDriftedIndex(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	page, _, err := s.svc.CreatePage(ctx, "", PageInput{Title: "A", Slug: "a", Body: "gizmo"})
	require.NoError(t, err)
	require.NoError(t, s.index.OnDelete(ctx, page.ID))

	hits, err := s.svc.Search(ctx, "gizmo")
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.svc.Reindex(ctx))

	hits, err = s.svc.Search(ctx, "gizmo")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestPathRoundTrip(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	for _, step := range []struct{ parent, slug string }{{"", "x"}, {"x", "y"}, {"x/y", "z"}, {"", "w"}} {
		_, _, err := s.svc.CreatePage(ctx, step.parent, PageInput{Title: step.slug, Slug: step.slug, Body: "."})
		require.NoError(t, err)
	}

	codec := pathcodec.New(s.pages)
	pages, err := s.pages.GetAllPages(ctx)
	require.NoError(t, err)
	for _, p := range pages {
		path, err := codec.PathOf(ctx, p.ID)
		require.NoError(t, err)
		resolved, err := codec.Resolve(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, p.ID, resolved.ID, "path %q", path)
	}
}
