// Package search maintains the full-text index over the latest revision of
// every page. The index lives in its own SQLite database and is a derived
// view of the content store: it can always be rebuilt from scratch.
package search

import (
	"context"
	"fmt"
	"html"
	"html/template"
	"strings"
	"sync"
	"unicode"

	"go-treewiki/internal/config"
	"go-treewiki/internal/data"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	markOpen  = "\x02"
	markClose = "\x03"

	snippetTokens = 32
	resultLimit   = 50
)

// markerStripper removes the snippet markers from indexed text so that only
// the markers added by snippet() reach highlight.
var markerStripper = strings.NewReplacer(markOpen, "", markClose, "")

// Hit is a single search result.
type Hit struct {
	ID             int64
	Path           string
	TitleSnippet   template.HTML
	BodySnippet    template.HTML
	SidebarSnippet template.HTML
}

// Index is an FTS5-backed full-text index.
type Index struct {
	db *sqlx.DB
	mu sync.Mutex
}

// New opens the index database at cfg.Path (or an in-memory one) and ensures
// the virtual table exists.
func New(cfg config.SearchConfig) (*Index, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite search index: %w", err)
	}

	if data.IsMemoryDSN(path) {
		// Every connection to ":memory:" is a distinct database.
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode on search index: %w", err)
		}
	}

	schema := `CREATE VIRTUAL TABLE IF NOT EXISTS search USING fts5(path UNINDEXED, title, body, sidebar);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create search schema: %w", err)
	}

	return &Index{db: db}, nil
}

// RebuildAll clears the index and repopulates it from the latest revision of
// every page. Pages without a revision are skipped.
func (i *Index) RebuildAll(ctx context.Context, pages []*data.Page, latest map[int64]*data.PageRevision, pathOf map[int64]string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reindex: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM search`); err != nil {
		return fmt.Errorf("failed to clear search index: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO search (rowid, path, title, body, sidebar) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare reindex insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pages {
		rev, ok := latest[p.ID]
		if !ok {
			continue
		}
		path, ok := pathOf[p.ID]
		if !ok {
			return fmt.Errorf("failed to reindex page %d: no path", p.ID)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, path, indexable(p.Title), indexable(rev.Markdown), indexable(rev.SidebarMarkdown)); err != nil {
			return fmt.Errorf("failed to index page %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reindex: %w", err)
	}
	return nil
}

// OnCreate adds a new page to the index.
func (i *Index) OnCreate(ctx context.Context, id int64, path, title, body, sidebar string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	query := `INSERT INTO search (rowid, path, title, body, sidebar) VALUES (?, ?, ?, ?, ?)`
	if _, err := i.db.ExecContext(ctx, query, id, path, indexable(title), indexable(body), indexable(sidebar)); err != nil {
		return fmt.Errorf("failed to index new page %d: %w", id, err)
	}
	return nil
}

// OnEdit replaces the indexed content of a page, inserting the row if it is
// missing.
func (i *Index) OnEdit(ctx context.Context, id int64, path, title, body, sidebar string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM search WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("failed to drop stale index entry %d: %w", id, err)
	}
	query := `INSERT INTO search (rowid, path, title, body, sidebar) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, id, path, indexable(title), indexable(body), indexable(sidebar)); err != nil {
		return fmt.Errorf("failed to reindex page %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index update: %w", err)
	}
	return nil
}

// UpdatePath changes only the stored path of a page.
func (i *Index) UpdatePath(ctx context.Context, id int64, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, err := i.db.ExecContext(ctx, `UPDATE search SET path = ? WHERE rowid = ?`, path, id); err != nil {
		return fmt.Errorf("failed to update indexed path of page %d: %w", id, err)
	}
	return nil
}

// OnDelete removes pages from the index. Unknown ids are ignored.
func (i *Index) OnDelete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	query, args, err := sqlx.In(`DELETE FROM search WHERE rowid IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build index delete query: %w", err)
	}
	if _, err := i.db.ExecContext(ctx, i.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to remove pages from index: %w", err)
	}
	return nil
}

// Search runs a full-text query. An empty query returns no hits.
func (i *Index) Search(ctx context.Context, query string) ([]Hit, error) {
	match := MatchExpression(query)
	if match == "" {
		return nil, nil
	}

	var rows []struct {
		ID      int64  `db:"rowid"`
		Path    string `db:"path"`
		Title   string `db:"title_snippet"`
		Body    string `db:"body_snippet"`
		Sidebar string `db:"sidebar_snippet"`
	}
	q := fmt.Sprintf(`SELECT rowid, path,
			snippet(search, 1, '%[1]s', '%[2]s', '...', %[3]d) AS title_snippet,
			snippet(search, 2, '%[1]s', '%[2]s', '...', %[3]d) AS body_snippet,
			snippet(search, 3, '%[1]s', '%[2]s', '...', %[3]d) AS sidebar_snippet
		FROM search
		WHERE search MATCH ?
		ORDER BY bm25(search, 0, 10, 5, 2)
		LIMIT %[4]d`, markOpen, markClose, snippetTokens, resultLimit)
	if err := i.db.SelectContext(ctx, &rows, q, match); err != nil {
		return nil, fmt.Errorf("failed to search pages: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			ID:             r.ID,
			Path:           r.Path,
			TitleSnippet:   highlight(r.Title),
			BodySnippet:    highlight(r.Body),
			SidebarSnippet: highlight(r.Sidebar),
		})
	}
	return hits, nil
}

// IsEmpty reports whether the index has no entries.
func (i *Index) IsEmpty(ctx context.Context) (bool, error) {
	n, err := i.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Count returns the number of indexed pages.
func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM search`); err != nil {
		return 0, fmt.Errorf("failed to count index entries: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (i *Index) Close() error {
	return i.db.Close()
}

// MatchExpression turns free text into an FTS5 query made of quoted phrases,
// one per whitespace-separated token, all of which must match. Tokens without
// a letter or digit are dropped. It returns "" when nothing is left.
func MatchExpression(query string) string {
	var phrases []string
	for _, tok := range strings.Fields(query) {
		tok = strings.ReplaceAll(tok, `"`, "")
		if !strings.ContainsFunc(tok, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) {
			continue
		}
		phrases = append(phrases, `"`+tok+`"`)
	}
	return strings.Join(phrases, " ")
}

func indexable(s string) string {
	return markerStripper.Replace(s)
}

func highlight(snippet string) template.HTML {
	escaped := html.EscapeString(snippet)
	escaped = strings.ReplaceAll(escaped, markOpen, "<mark>")
	escaped = strings.ReplaceAll(escaped, markClose, "</mark>")
	return template.HTML(escaped)
}
