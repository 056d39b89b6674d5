package service

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"go-treewiki/internal/data"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/metrics"
	"go-treewiki/internal/nav"
	"go-treewiki/internal/pathcodec"
	"go-treewiki/internal/search"

	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"
)

// DefaultRootBody is the first revision of a freshly created root page.
const DefaultRootBody = "Default root"

// PageRepository defines the page tree operations the service needs.
type PageRepository interface {
	CreateChild(ctx context.Context, parentID *int64, title, slug string) (*data.Page, error)
	UpdatePage(ctx context.Context, id int64, title, slug string) (*data.Page, error)
	DeletePage(ctx context.Context, id int64) ([]int64, error)
	GetPageByID(ctx context.Context, id int64) (*data.Page, error)
	GetAllPages(ctx context.Context) ([]*data.Page, error)
	AllEdges(ctx context.Context) ([]data.Edge, error)
	CountPages(ctx context.Context) (int, error)
}

// RevisionRepository defines the revision history operations the service needs.
type RevisionRepository interface {
	Append(ctx context.Context, pageID int64, markdownBody, markdownSidebar string, render data.RenderFunc) (*data.PageRevision, error)
	Nth(ctx context.Context, pageID int64, ordinal *int) (*data.PageRevision, error)
	Lookup(ctx context.Context, pageID int64, ordinal *int) (*data.RevisionView, error)
	DeleteNth(ctx context.Context, pageID int64, ordinal int) error
	ListByPage(ctx context.Context, pageID int64) ([]*data.PageRevision, error)
	LatestByPage(ctx context.Context) (map[int64]*data.PageRevision, error)
}

// SearchIndexer defines the full-text projection the service keeps in step
// with the content store.
type SearchIndexer interface {
	RebuildAll(ctx context.Context, pages []*data.Page, latest map[int64]*data.PageRevision, pathOf map[int64]string) error
	OnCreate(ctx context.Context, id int64, path, title, body, sidebar string) error
	OnEdit(ctx context.Context, id int64, path, title, body, sidebar string) error
	UpdatePath(ctx context.Context, id int64, path string) error
	OnDelete(ctx context.Context, ids ...int64) error
	Search(ctx context.Context, query string) ([]search.Hit, error)
	IsEmpty(ctx context.Context) (bool, error)
}

// Renderer converts markdown to HTML.
type Renderer interface {
	Render(src string) (string, error)
}

// WikiServicer defines the operations exposed to the HTTP layer.
type WikiServicer interface {
	ViewPage(ctx context.Context, path string, ordinal *int) (*PageView, error)
	CreatePage(ctx context.Context, parentPath string, in PageInput) (*data.Page, string, error)
	EditPage(ctx context.Context, path string, in PageInput) (*data.Page, string, error)
	DeletePage(ctx context.Context, path string) error
	DeleteRevision(ctx context.Context, path string, ordinal int) error
	History(ctx context.Context, path string) (*PageHistory, error)
	Search(ctx context.Context, query string) ([]search.Hit, error)
	RawMarkdown(ctx context.Context, path string, ordinal *int) (*RawPage, error)
	ListPages(ctx context.Context) ([]PageSummary, error)
	Nav(ctx context.Context, path string) (template.HTML, error)
}

var _ WikiServicer = (*WikiService)(nil)

// PageInput is the user-editable part of a page.
type PageInput struct {
	Title   string
	Slug    string
	Body    string
	Sidebar string
}

// PageView is everything needed to display one revision of a page.
type PageView struct {
	Page     *data.Page
	Path     string
	Revision *data.PageRevision
	Ordinal  int
	Count    int
	IsLatest bool
	Nav      template.HTML
}

// PageHistory is the revision list of a page, oldest first.
type PageHistory struct {
	Page      *data.Page
	Path      string
	Revisions []*data.PageRevision
}

// PageSummary is one entry of the page listing.
type PageSummary struct {
	ID        int64
	Path      string
	Title     string
	UpdatedAt time.Time
}

// RawPage is a downloadable plain-text rendition of a revision.
type RawPage struct {
	Filename string
	Content  string
}

// IndexSyncError reports a search index write that failed after the content
// store write it mirrors had committed.
type IndexSyncError struct {
	Op     string
	PageID int64
	Err    error
}

func (e *IndexSyncError) Error() string {
	return fmt.Sprintf("search index %s for page %d: %v", e.Op, e.PageID, e.Err)
}

func (e *IndexSyncError) Unwrap() error {
	return e.Err
}

// WikiService is the single entry point for reading and writing wiki content.
// Every write goes to the content store first and is then mirrored into the
// search index. Index failures are logged and counted but never fail the
// operation; Reindex reconciles.
type WikiService struct {
	pages     PageRepository
	revisions RevisionRepository
	index     SearchIndexer
	renderer  Renderer
	codec     *pathcodec.Codec
	nav       *nav.Builder
	log       logger.Logger
}

// NewWikiService creates a new WikiService.
func NewWikiService(pages PageRepository, revisions RevisionRepository, index SearchIndexer, renderer Renderer, log logger.Logger) *WikiService {
	return &WikiService{
		pages:     pages,
		revisions: revisions,
		index:     index,
		renderer:  renderer,
		codec:     pathcodec.New(pages),
		nav:       nav.NewBuilder(nav.DefaultPrefix),
		log:       log,
	}
}

func (s *WikiService) render(src string) (string, error) {
	return s.renderer.Render(src)
}

// indexFailed records an index write that could not be applied.
func (s *WikiService) indexFailed(op string, pageID int64, err error) {
	metrics.SearchSyncFailures.WithLabelValues(op).Inc()
	s.log.With(map[string]interface{}{"op": op, "page_id": pageID}).
		Error(&IndexSyncError{Op: op, PageID: pageID, Err: err}, "search index out of sync")
}

// Bootstrap creates the root page when the store is empty and rebuilds the
// search index when it has no entries.
func (s *WikiService) Bootstrap(ctx context.Context) error {
	count, err := s.pages.CountPages(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		root, err := s.pages.CreateChild(ctx, nil, "", "")
		switch {
		case errors.Is(err, data.ErrRootExists):
			// Another process created it first.
		case err != nil:
			return fmt.Errorf("failed to create root page: %w", err)
		default:
			if _, err := s.revisions.Append(ctx, root.ID, DefaultRootBody, "", s.render); err != nil {
				return fmt.Errorf("failed to create root revision: %w", err)
			}
			if err := s.index.OnCreate(ctx, root.ID, "", root.Title, DefaultRootBody, ""); err != nil {
				s.indexFailed("create", root.ID, err)
			}
			s.log.Info("created root page")
		}
	}

	empty, err := s.index.IsEmpty(ctx)
	if err != nil {
		s.indexFailed("reindex", 0, err)
		return nil
	}
	if empty {
		if err := s.Reindex(ctx); err != nil {
			s.indexFailed("reindex", 0, err)
		}
	}
	return nil
}

// Reindex rebuilds the search index from the latest revision of every page.
func (s *WikiService) Reindex(ctx context.Context) error {
	pages, err := s.pages.GetAllPages(ctx)
	if err != nil {
		return err
	}
	latest, err := s.revisions.LatestByPage(ctx)
	if err != nil {
		return err
	}
	paths, err := s.codec.Paths(ctx)
	if err != nil {
		return err
	}
	if err := s.index.RebuildAll(ctx, pages, latest, paths); err != nil {
		return err
	}
	s.log.With(map[string]interface{}{"pages": len(latest)}).Info("search index rebuilt")
	return nil
}

// ViewPage returns the page at path with the revision at ordinal, or the
// latest revision when ordinal is nil, and its navigation tree.
func (s *WikiService) ViewPage(ctx context.Context, path string, ordinal *int) (*PageView, error) {
	page, err := s.codec.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	view := &PageView{Page: page, Path: pathcodec.Normalize(path)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rv, err := s.revisions.Lookup(gctx, page.ID, ordinal)
		if err != nil {
			return err
		}
		view.Revision = rv.Revision
		view.Ordinal = rv.Ordinal
		view.Count = rv.Count
		view.IsLatest = rv.IsLatest
		return nil
	})
	g.Go(func() error {
		edges, err := s.pages.AllEdges(gctx)
		if err != nil {
			return err
		}
		view.Nav = s.nav.Render(edges, view.Path)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}

// Nav renders the navigation tree with the branch leading to path expanded.
func (s *WikiService) Nav(ctx context.Context, path string) (template.HTML, error) {
	edges, err := s.pages.AllEdges(ctx)
	if err != nil {
		return "", err
	}
	return s.nav.Render(edges, path), nil
}

// Tree renders the page tree as plain text.
func (s *WikiService) Tree(ctx context.Context, path string, expandAll bool) (string, error) {
	if _, err := s.codec.Resolve(ctx, path); err != nil {
		return "", err
	}
	edges, err := s.pages.AllEdges(ctx)
	if err != nil {
		return "", err
	}
	return s.nav.RenderText(edges, path, expandAll), nil
}

// CreatePage adds a child page under parentPath. An empty slug is derived
// from the title. It returns the new page and its path.
func (s *WikiService) CreatePage(ctx context.Context, parentPath string, in PageInput) (*data.Page, string, error) {
	parent, err := s.codec.Resolve(ctx, parentPath)
	if err != nil {
		return nil, "", err
	}

	title := strings.TrimSpace(in.Title)
	pageSlug := strings.TrimSpace(in.Slug)
	if pageSlug == "" {
		pageSlug = slug.Make(title)
	}

	page, err := s.pages.CreateChild(ctx, &parent.ID, title, pageSlug)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.revisions.Append(ctx, page.ID, in.Body, in.Sidebar, s.render); err != nil {
		// A page without a revision cannot be displayed.
		if _, delErr := s.pages.DeletePage(ctx, page.ID); delErr != nil {
			s.log.Error(delErr, "failed to remove page after revision append failed")
		}
		return nil, "", err
	}
	metrics.PageWrites.WithLabelValues("create").Inc()

	path := pathcodec.Join(parentPath, page.Slug)
	if err := s.index.OnCreate(ctx, page.ID, path, page.Title, in.Body, in.Sidebar); err != nil {
		s.indexFailed("create", page.ID, err)
	}
	return page, path, nil
}

// EditPage updates the title and slug of the page at path and appends a new
// revision. It returns the page and its possibly changed path.
func (s *WikiService) EditPage(ctx context.Context, path string, in PageInput) (*data.Page, string, error) {
	page, err := s.codec.Resolve(ctx, path)
	if err != nil {
		return nil, "", err
	}

	title := strings.TrimSpace(in.Title)
	pageSlug := strings.TrimSpace(in.Slug)
	if page.IsRoot() {
		pageSlug = ""
	} else if pageSlug == "" {
		pageSlug = page.Slug
	}

	updated, err := s.pages.UpdatePage(ctx, page.ID, title, pageSlug)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.revisions.Append(ctx, page.ID, in.Body, in.Sidebar, s.render); err != nil {
		if pageSlug != page.Slug {
			// The rename committed; keep the subtree's indexed paths in step.
			s.movePaths(ctx, page.ID)
		}
		return nil, "", err
	}
	metrics.PageWrites.WithLabelValues("edit").Inc()

	edges, err := s.pages.AllEdges(ctx)
	if err != nil {
		s.indexFailed("edit", page.ID, err)
		return updated, pathcodec.Join(parentOf(path), pageSlug), nil
	}
	paths, err := pathcodec.PathsIn(edges)
	if err != nil {
		s.indexFailed("edit", page.ID, err)
		return updated, pathcodec.Join(parentOf(path), pageSlug), nil
	}

	newPath := paths[page.ID]
	if err := s.index.OnEdit(ctx, page.ID, newPath, updated.Title, in.Body, in.Sidebar); err != nil {
		s.indexFailed("edit", page.ID, err)
	}
	if pageSlug != page.Slug {
		for _, id := range data.Descendants(edges, page.ID)[1:] {
			if err := s.index.UpdatePath(ctx, id, paths[id]); err != nil {
				s.indexFailed("move", id, err)
			}
		}
	}
	return updated, newPath, nil
}

// movePaths re-points the index entries of pageID and its descendants at
// their current paths.
func (s *WikiService) movePaths(ctx context.Context, pageID int64) {
	edges, err := s.pages.AllEdges(ctx)
	if err != nil {
		s.indexFailed("move", pageID, err)
		return
	}
	paths, err := pathcodec.PathsIn(edges)
	if err != nil {
		s.indexFailed("move", pageID, err)
		return
	}
	for _, id := range data.Descendants(edges, pageID) {
		if err := s.index.UpdatePath(ctx, id, paths[id]); err != nil {
			s.indexFailed("move", id, err)
		}
	}
}

// DeletePage removes the page at path with its whole subtree.
func (s *WikiService) DeletePage(ctx context.Context, path string) error {
	page, err := s.codec.Resolve(ctx, path)
	if err != nil {
		return err
	}
	if page.IsRoot() {
		return data.ErrRootDeletionForbidden
	}

	ids, err := s.pages.DeletePage(ctx, page.ID)
	if err != nil {
		return err
	}
	metrics.PageWrites.WithLabelValues("delete").Inc()

	if err := s.index.OnDelete(ctx, ids...); err != nil {
		s.indexFailed("delete", page.ID, err)
	}
	return nil
}

// DeleteRevision removes one revision of the page at path. The search entry
// follows the new latest revision. The only revision of a page cannot be
// removed.
func (s *WikiService) DeleteRevision(ctx context.Context, path string, ordinal int) error {
	page, err := s.codec.Resolve(ctx, path)
	if err != nil {
		return err
	}
	if err := s.revisions.DeleteNth(ctx, page.ID, ordinal); err != nil {
		return err
	}
	metrics.PageWrites.WithLabelValues("delete_revision").Inc()

	latest, err := s.revisions.Nth(ctx, page.ID, nil)
	if err != nil {
		s.indexFailed("delete_revision", page.ID, err)
		return nil
	}
	if err := s.index.OnEdit(ctx, page.ID, pathcodec.Normalize(path), page.Title, latest.Markdown, latest.SidebarMarkdown); err != nil {
		s.indexFailed("delete_revision", page.ID, err)
	}
	return nil
}

// History returns every revision of the page at path, oldest first.
func (s *WikiService) History(ctx context.Context, path string) (*PageHistory, error) {
	page, err := s.codec.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	revs, err := s.revisions.ListByPage(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	return &PageHistory{Page: page, Path: pathcodec.Normalize(path), Revisions: revs}, nil
}

// Search runs a full-text query over the latest revision of every page.
func (s *WikiService) Search(ctx context.Context, query string) ([]search.Hit, error) {
	metrics.SearchQueries.Inc()
	return s.index.Search(ctx, query)
}

// RawMarkdown returns a plain-text download of a revision of the page at path.
func (s *WikiService) RawMarkdown(ctx context.Context, path string, ordinal *int) (*RawPage, error) {
	page, err := s.codec.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	rv, err := s.revisions.Lookup(ctx, page.ID, ordinal)
	if err != nil {
		return nil, err
	}

	name := page.Slug
	if page.IsRoot() {
		name = "root"
	}
	return &RawPage{
		Filename: name + ".md",
		Content:  FormatRaw(page.Title, rv.Revision.Markdown, rv.Revision.SidebarMarkdown),
	}, nil
}

// FormatRaw lays out a page as a single markdown document: title, body and
// sidebar separated by horizontal rules.
func FormatRaw(title, body, sidebar string) string {
	rule := strings.Repeat("-", 80)
	if sidebar == "" {
		sidebar = "This page has no sidenotes."
	}

	var sb strings.Builder
	sb.WriteString("# " + title + "\n")
	sb.WriteString(rule + "\n\n")
	sb.WriteString(body + "\n\n")
	sb.WriteString(rule + "\n\n")
	sb.WriteString(sidebar)
	return sb.String()
}

// ListPages returns every page with its path and last modification time,
// ordered by path.
func (s *WikiService) ListPages(ctx context.Context) ([]PageSummary, error) {
	pages, err := s.pages.GetAllPages(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := s.codec.Paths(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.revisions.LatestByPage(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]PageSummary, 0, len(pages))
	for _, p := range pages {
		summary := PageSummary{ID: p.ID, Path: paths[p.ID], Title: p.Title}
		if rev, ok := latest[p.ID]; ok {
			summary.UpdatedAt = time.Unix(rev.UnixTime, 0).UTC()
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Path < summaries[j].Path
	})
	return summaries, nil
}

func parentOf(path string) string {
	path = pathcodec.Normalize(path)
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}
