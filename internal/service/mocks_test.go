//go:build unit

package service

import (
	"context"
	"errors"
	"fmt"

	"go-treewiki/internal/data"
	"go-treewiki/internal/search"
)

// mockPageRepository is a mock implementation of the PageRepository interface
// backed by a slice of pages.
type mockPageRepository struct {
	pages  []*data.Page
	nextID int64

	createErr error
	updateErr error

	createChildCalled int
	updatePageCalled  int
	deletePageCalled  int
	lastDeletedID     int64
}

var _ PageRepository = (*mockPageRepository)(nil)

func newMockPageRepository(pages ...*data.Page) *mockPageRepository {
	m := &mockPageRepository{pages: pages, nextID: 1}
	for _, p := range pages {
		if p.ID >= m.nextID {
			m.nextID = p.ID + 1
		}
	}
	return m
}

func (m *mockPageRepository) CreateChild(ctx context.Context, parentID *int64, title, slug string) (*data.Page, error) {
	m.createChildCalled++
	if m.createErr != nil {
		return nil, m.createErr
	}
	p := &data.Page{ID: m.nextID, ParentID: parentID, Title: title, Slug: slug}
	m.nextID++
	m.pages = append(m.pages, p)
	return p, nil
}

func (m *mockPageRepository) UpdatePage(ctx context.Context, id int64, title, slug string) (*data.Page, error) {
	m.updatePageCalled++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	for _, p := range m.pages {
		if p.ID == id {
			p.Title = title
			p.Slug = slug
			cp := *p
			return &cp, nil
		}
	}
	return nil, data.ErrPageNotFound
}

func (m *mockPageRepository) DeletePage(ctx context.Context, id int64) ([]int64, error) {
	m.deletePageCalled++
	m.lastDeletedID = id
	edges, _ := m.AllEdges(ctx)
	ids := data.Descendants(edges, id)
	drop := make(map[int64]bool, len(ids))
	for _, i := range ids {
		drop[i] = true
	}
	kept := m.pages[:0]
	for _, p := range m.pages {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	m.pages = kept
	return ids, nil
}

func (m *mockPageRepository) GetPageByID(ctx context.Context, id int64) (*data.Page, error) {
	for _, p := range m.pages {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", data.ErrPageNotFound, id)
}

func (m *mockPageRepository) GetAllPages(ctx context.Context) ([]*data.Page, error) {
	return m.pages, nil
}

func (m *mockPageRepository) AllEdges(ctx context.Context) ([]data.Edge, error) {
	edges := make([]data.Edge, 0, len(m.pages))
	for _, p := range m.pages {
		edges = append(edges, data.Edge{ID: p.ID, ParentID: p.ParentID, Slug: p.Slug})
	}
	return edges, nil
}

func (m *mockPageRepository) CountPages(ctx context.Context) (int, error) {
	return len(m.pages), nil
}

// mockRevisionRepository is a mock implementation of the RevisionRepository interface.
type mockRevisionRepository struct {
	revisions map[int64][]*data.PageRevision

	appendErr error

	appendCalled    int
	deleteNthCalled int
}

var _ RevisionRepository = (*mockRevisionRepository)(nil)

func newMockRevisionRepository() *mockRevisionRepository {
	return &mockRevisionRepository{revisions: make(map[int64][]*data.PageRevision)}
}

func (m *mockRevisionRepository) Append(ctx context.Context, pageID int64, body, sidebar string, render data.RenderFunc) (*data.PageRevision, error) {
	m.appendCalled++
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	html, err := render(body)
	if err != nil {
		return nil, err
	}
	rev := &data.PageRevision{PageID: pageID, HTML: html, Markdown: body, SidebarMarkdown: sidebar}
	m.revisions[pageID] = append(m.revisions[pageID], rev)
	return rev, nil
}

func (m *mockRevisionRepository) Nth(ctx context.Context, pageID int64, ordinal *int) (*data.PageRevision, error) {
	revs := m.revisions[pageID]
	pos := len(revs) - 1
	if ordinal != nil {
		pos = *ordinal
	}
	if pos < 0 || pos >= len(revs) {
		return nil, data.ErrRevisionNotFound
	}
	return revs[pos], nil
}

func (m *mockRevisionRepository) Lookup(ctx context.Context, pageID int64, ordinal *int) (*data.RevisionView, error) {
	rev, err := m.Nth(ctx, pageID, ordinal)
	if err != nil {
		return nil, err
	}
	count := len(m.revisions[pageID])
	pos := count - 1
	if ordinal != nil {
		pos = *ordinal
	}
	return &data.RevisionView{Revision: rev, Ordinal: pos, Count: count, IsLatest: pos == count-1}, nil
}

func (m *mockRevisionRepository) DeleteNth(ctx context.Context, pageID int64, ordinal int) error {
	m.deleteNthCalled++
	revs := m.revisions[pageID]
	if ordinal < 0 || ordinal >= len(revs) {
		return data.ErrRevisionNotFound
	}
	if len(revs) == 1 {
		return data.ErrLastRevision
	}
	m.revisions[pageID] = append(revs[:ordinal:ordinal], revs[ordinal+1:]...)
	return nil
}

func (m *mockRevisionRepository) ListByPage(ctx context.Context, pageID int64) ([]*data.PageRevision, error) {
	return m.revisions[pageID], nil
}

func (m *mockRevisionRepository) LatestByPage(ctx context.Context) (map[int64]*data.PageRevision, error) {
	latest := make(map[int64]*data.PageRevision)
	for id, revs := range m.revisions {
		if len(revs) > 0 {
			latest[id] = revs[len(revs)-1]
		}
	}
	return latest, nil
}

type indexEntry struct {
	path, title, body, sidebar string
}

// mockSearchIndexer is a mock implementation of the SearchIndexer interface.
type mockSearchIndexer struct {
	entries map[int64]indexEntry

	errToReturn error

	rebuildCalled  int
	onCreateCalled int
	onEditCalled   int
	onDeleteCalled int
	updatedPaths   map[int64]string
	lastDeletedIDs []int64
}

var _ SearchIndexer = (*mockSearchIndexer)(nil)

func newMockSearchIndexer() *mockSearchIndexer {
	return &mockSearchIndexer{entries: make(map[int64]indexEntry), updatedPaths: make(map[int64]string)}
}

func (m *mockSearchIndexer) RebuildAll(ctx context.Context, pages []*data.Page, latest map[int64]*data.PageRevision, pathOf map[int64]string) error {
	m.rebuildCalled++
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.entries = make(map[int64]indexEntry)
	for _, p := range pages {
		if rev, ok := latest[p.ID]; ok {
			m.entries[p.ID] = indexEntry{pathOf[p.ID], p.Title, rev.Markdown, rev.SidebarMarkdown}
		}
	}
	return nil
}

func (m *mockSearchIndexer) OnCreate(ctx context.Context, id int64, path, title, body, sidebar string) error {
	m.onCreateCalled++
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.entries[id] = indexEntry{path, title, body, sidebar}
	return nil
}

func (m *mockSearchIndexer) OnEdit(ctx context.Context, id int64, path, title, body, sidebar string) error {
	m.onEditCalled++
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.entries[id] = indexEntry{path, title, body, sidebar}
	return nil
}

func (m *mockSearchIndexer) UpdatePath(ctx context.Context, id int64, path string) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.updatedPaths[id] = path
	return nil
}

func (m *mockSearchIndexer) OnDelete(ctx context.Context, ids ...int64) error {
	m.onDeleteCalled++
	m.lastDeletedIDs = ids
	if m.errToReturn != nil {
		return m.errToReturn
	}
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *mockSearchIndexer) Search(ctx context.Context, query string) ([]search.Hit, error) {
	return nil, m.errToReturn
}

func (m *mockSearchIndexer) IsEmpty(ctx context.Context) (bool, error) {
	if m.errToReturn != nil {
		return false, m.errToReturn
	}
	return len(m.entries) == 0, nil
}

// mockRenderer wraps markdown in a paragraph.
type mockRenderer struct {
	errToReturn error
}

func (m *mockRenderer) Render(src string) (string, error) {
	if m.errToReturn != nil {
		return "", m.errToReturn
	}
	return "<p>" + src + "</p>", nil
}

var errIndexDown = errors.New("index unavailable")
