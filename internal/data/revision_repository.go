package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// RenderFunc converts markdown source to HTML.
type RenderFunc func(markdown string) (string, error)

// ISOTimeFormat is the human-readable timestamp stored on each revision.
const ISOTimeFormat = "2006-01-02 15:04:05 UTC"

const revisionColumns = `id, page_id, iso_time, unix_time, html, markdown, sidebar_html, sidebar_markdown`

// SQLRevisionRepository is the append-only history of page content.
// Revisions of a page are ordered by (unix_time, id).
type SQLRevisionRepository struct {
	db  *sqlx.DB
	mu  *sync.Mutex
	now func() time.Time
}

// NewSQLRevisionRepository creates a new SQLRevisionRepository.
func NewSQLRevisionRepository(db *sqlx.DB) *SQLRevisionRepository {
	return &SQLRevisionRepository{db: db, mu: writerFor(db), now: time.Now}
}

// WithClock replaces the clock used to stamp new revisions.
func (r *SQLRevisionRepository) WithClock(now func() time.Time) *SQLRevisionRepository {
	r.now = now
	return r
}

// Append renders and stores a new revision for pageID.
func (r *SQLRevisionRepository) Append(ctx context.Context, pageID int64, markdownBody, markdownSidebar string, render RenderFunc) (*PageRevision, error) {
	html, err := render(markdownBody)
	if err != nil {
		return nil, fmt.Errorf("failed to render page body: %w", err)
	}
	sidebarHTML, err := render(markdownSidebar)
	if err != nil {
		return nil, fmt.Errorf("failed to render page sidebar: %w", err)
	}

	now := r.now().UTC()
	rev := &PageRevision{
		PageID:          pageID,
		ISOTime:         now.Format(ISOTimeFormat),
		UnixTime:        now.Unix(),
		HTML:            html,
		Markdown:        markdownBody,
		SidebarHTML:     sidebarHTML,
		SidebarMarkdown: markdownSidebar,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	query := `INSERT INTO page_revision (page_id, iso_time, unix_time, html, markdown, sidebar_html, sidebar_markdown)
		VALUES (:page_id, :iso_time, :unix_time, :html, :markdown, :sidebar_html, :sidebar_markdown)`
	res, err := r.db.NamedExecContext(ctx, query, rev)
	if err != nil {
		return nil, fmt.Errorf("failed to insert page revision: %w", err)
	}
	if rev.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get new revision id: %w", err)
	}
	return rev, nil
}

// Nth returns the revision at the zero-based ordinal in timestamp order, or
// the latest revision when ordinal is nil.
func (r *SQLRevisionRepository) Nth(ctx context.Context, pageID int64, ordinal *int) (*PageRevision, error) {
	return nthRevision(ctx, r.db, pageID, ordinal)
}

// IsLatest reports whether ordinal designates the latest revision at query
// time. A nil ordinal always designates the latest.
func (r *SQLRevisionRepository) IsLatest(ctx context.Context, pageID int64, ordinal *int) (bool, error) {
	if ordinal == nil {
		return true, nil
	}
	count, err := countRevisions(ctx, r.db, pageID)
	if err != nil {
		return false, err
	}
	return *ordinal == count-1, nil
}

// Lookup fetches a revision and computes its position and latest-ness from
// the same read transaction.
func (r *SQLRevisionRepository) Lookup(ctx context.Context, pageID int64, ordinal *int) (*RevisionView, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin revision lookup: %w", err)
	}
	defer tx.Rollback()

	count, err := countRevisions(ctx, tx, pageID)
	if err != nil {
		return nil, err
	}
	pos := count - 1
	if ordinal != nil {
		pos = *ordinal
	}
	if count == 0 || pos < 0 || pos >= count {
		return nil, fmt.Errorf("%w: page %d has %d revisions", ErrRevisionNotFound, pageID, count)
	}

	rev, err := nthRevision(ctx, tx, pageID, &pos)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to finish revision lookup: %w", err)
	}

	return &RevisionView{Revision: rev, Ordinal: pos, Count: count, IsLatest: pos == count-1}, nil
}

// DeleteNth removes the revision at ordinal. It is an administrative
// correction and does not touch the search index. A page always keeps at
// least one revision.
func (r *SQLRevisionRepository) DeleteNth(ctx context.Context, pageID int64, ordinal int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin revision delete: %w", err)
	}
	defer tx.Rollback()

	rev, err := nthRevision(ctx, tx, pageID, &ordinal)
	if err != nil {
		return err
	}
	count, err := countRevisions(ctx, tx, pageID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return fmt.Errorf("%w: page %d", ErrLastRevision, pageID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM page_revision WHERE id = ?`, rev.ID); err != nil {
		return fmt.Errorf("failed to delete revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revision delete: %w", err)
	}
	return nil
}

// ListByPage returns every revision of a page, oldest first.
func (r *SQLRevisionRepository) ListByPage(ctx context.Context, pageID int64) ([]*PageRevision, error) {
	var revs []*PageRevision
	query := `SELECT ` + revisionColumns + ` FROM page_revision WHERE page_id = ? ORDER BY unix_time ASC, id ASC`
	if err := r.db.SelectContext(ctx, &revs, query, pageID); err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revs, nil
}

// CountByPage returns the number of revisions of a page.
func (r *SQLRevisionRepository) CountByPage(ctx context.Context, pageID int64) (int, error) {
	return countRevisions(ctx, r.db, pageID)
}

// LatestByPage returns the latest revision of every page that has one.
func (r *SQLRevisionRepository) LatestByPage(ctx context.Context) (map[int64]*PageRevision, error) {
	var revs []*PageRevision
	query := `SELECT ` + revisionColumns + ` FROM page_revision r
		WHERE r.id = (
			SELECT r2.id FROM page_revision r2
			WHERE r2.page_id = r.page_id
			ORDER BY r2.unix_time DESC, r2.id DESC
			LIMIT 1
		)`
	if err := r.db.SelectContext(ctx, &revs, query); err != nil {
		return nil, fmt.Errorf("failed to load latest revisions: %w", err)
	}

	latest := make(map[int64]*PageRevision, len(revs))
	for _, rev := range revs {
		latest[rev.PageID] = rev
	}
	return latest, nil
}

func nthRevision(ctx context.Context, q sqlx.QueryerContext, pageID int64, ordinal *int) (*PageRevision, error) {
	var (
		rev PageRevision
		err error
	)
	if ordinal == nil {
		query := `SELECT ` + revisionColumns + ` FROM page_revision WHERE page_id = ? ORDER BY unix_time DESC, id DESC LIMIT 1`
		err = sqlx.GetContext(ctx, q, &rev, query, pageID)
	} else {
		if *ordinal < 0 {
			return nil, fmt.Errorf("%w: negative ordinal %d", ErrRevisionNotFound, *ordinal)
		}
		query := `SELECT ` + revisionColumns + ` FROM page_revision WHERE page_id = ? ORDER BY unix_time ASC, id ASC LIMIT 1 OFFSET ?`
		err = sqlx.GetContext(ctx, q, &rev, query, pageID, *ordinal)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: page %d", ErrRevisionNotFound, pageID)
		}
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return &rev, nil
}

func countRevisions(ctx context.Context, q sqlx.QueryerContext, pageID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM page_revision WHERE page_id = ?`, pageID); err != nil {
		return 0, fmt.Errorf("failed to count revisions: %w", err)
	}
	return n, nil
}
