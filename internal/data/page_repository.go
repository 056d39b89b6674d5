package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// SQLPageRepository is the authoritative store for the page tree.
type SQLPageRepository struct {
	db *sqlx.DB
	mu *sync.Mutex
}

// NewSQLPageRepository creates a new SQLPageRepository.
func NewSQLPageRepository(db *sqlx.DB) *SQLPageRepository {
	return &SQLPageRepository{db: db, mu: writerFor(db)}
}

// CreateChild inserts a new leaf page under parentID. A nil parentID creates
// the root, which is only legal while the store has no root yet.
func (r *SQLPageRepository) CreateChild(ctx context.Context, parentID *int64, title, slug string) (*Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create page transaction: %w", err)
	}
	defer tx.Rollback()

	if parentID == nil {
		if slug != "" {
			return nil, fmt.Errorf("%w: the root page has an empty slug", ErrInvalidSlug)
		}
		var roots int
		if err := tx.GetContext(ctx, &roots, `SELECT COUNT(*) FROM pages WHERE parent_id IS NULL`); err != nil {
			return nil, fmt.Errorf("failed to count root pages: %w", err)
		}
		if roots > 0 {
			return nil, ErrRootExists
		}
	} else {
		if err := ValidateSlug(slug); err != nil {
			return nil, err
		}
		if _, err := getPage(ctx, tx, *parentID); err != nil {
			return nil, err
		}
		if err := checkSiblingSlug(ctx, tx, *parentID, slug, 0); err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO pages (parent_id, title, slug) VALUES (?, ?, ?)`, parentID, title, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to execute create page query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get new page id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit create page: %w", err)
	}

	return &Page{ID: id, ParentID: parentID, Title: title, Slug: slug}, nil
}

// UpdatePage changes the title and slug of a page in place. Revisions are not touched.
func (r *SQLPageRepository) UpdatePage(ctx context.Context, id int64, title, slug string) (*Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update page transaction: %w", err)
	}
	defer tx.Rollback()

	page, err := getPage(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if page.IsRoot() {
		if slug != "" {
			return nil, fmt.Errorf("%w: the root page has an empty slug", ErrInvalidSlug)
		}
	} else {
		if err := ValidateSlug(slug); err != nil {
			return nil, err
		}
		if err := checkSiblingSlug(ctx, tx, *page.ParentID, slug, id); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE pages SET title = ?, slug = ? WHERE id = ?`, title, slug, id); err != nil {
		return nil, fmt.Errorf("failed to update page: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit page update: %w", err)
	}

	page.Title = title
	page.Slug = slug
	return page, nil
}

// DeletePage removes a page, all of its descendants and all of their
// revisions. It returns the ids of every removed page. The root cannot be
// deleted.
func (r *SQLPageRepository) DeletePage(ctx context.Context, id int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delete page transaction: %w", err)
	}
	defer tx.Rollback()

	page, err := getPage(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if page.IsRoot() {
		return nil, ErrRootDeletionForbidden
	}

	edges, err := loadEdges(ctx, tx)
	if err != nil {
		return nil, err
	}
	ids := Descendants(edges, id)

	query, args, err := sqlx.In(`DELETE FROM page_revision WHERE page_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build revision delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to delete revisions: %w", err)
	}

	// Deepest first so no row ever points at a deleted parent.
	for i := len(ids) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, ids[i]); err != nil {
			return nil, fmt.Errorf("failed to delete page %d: %w", ids[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit page delete: %w", err)
	}
	return ids, nil
}

// GetPageByID retrieves a single page by its ID.
func (r *SQLPageRepository) GetPageByID(ctx context.Context, id int64) (*Page, error) {
	return getPage(ctx, r.db, id)
}

// GetRoot retrieves the parentless root page.
func (r *SQLPageRepository) GetRoot(ctx context.Context) (*Page, error) {
	var page Page
	query := `SELECT id, parent_id, title, slug FROM pages WHERE parent_id IS NULL ORDER BY id LIMIT 1`
	if err := r.db.GetContext(ctx, &page, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no root page", ErrPageNotFound)
		}
		return nil, fmt.Errorf("failed to get root page: %w", err)
	}
	return &page, nil
}

// GetAllPages retrieves all pages ordered by id.
func (r *SQLPageRepository) GetAllPages(ctx context.Context) ([]*Page, error) {
	var pages []*Page
	query := `SELECT id, parent_id, title, slug FROM pages ORDER BY id`
	if err := r.db.SelectContext(ctx, &pages, query); err != nil {
		return nil, fmt.Errorf("failed to get all pages: %w", err)
	}
	return pages, nil
}

// AllEdges returns the (id, parent_id, slug) projection of every page,
// ordered by id.
func (r *SQLPageRepository) AllEdges(ctx context.Context) ([]Edge, error) {
	return loadEdges(ctx, r.db)
}

// CountPages returns the number of pages in the store.
func (r *SQLPageRepository) CountPages(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pages`); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

func getPage(ctx context.Context, q sqlx.QueryerContext, id int64) (*Page, error) {
	var page Page
	query := `SELECT id, parent_id, title, slug FROM pages WHERE id = ?`
	if err := sqlx.GetContext(ctx, q, &page, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrPageNotFound, id)
		}
		return nil, fmt.Errorf("failed to get page by id: %w", err)
	}
	return &page, nil
}

func loadEdges(ctx context.Context, q sqlx.QueryerContext) ([]Edge, error) {
	var edges []Edge
	if err := sqlx.SelectContext(ctx, q, &edges, `SELECT id, parent_id, slug FROM pages ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to load page edges: %w", err)
	}
	return edges, nil
}

// checkSiblingSlug fails with ErrDuplicateSlug when another child of
// parentID (other than exceptID) already uses slug.
func checkSiblingSlug(ctx context.Context, tx *sqlx.Tx, parentID int64, slug string, exceptID int64) error {
	var n int
	query := `SELECT COUNT(*) FROM pages WHERE parent_id = ? AND slug = ? AND id <> ?`
	if err := tx.GetContext(ctx, &n, query, parentID, slug, exceptID); err != nil {
		return fmt.Errorf("failed to check sibling slugs: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateSlug, slug)
	}
	return nil
}
