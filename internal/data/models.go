package data

import (
	"html/template"
)

// Page represents a single node of the wiki tree.
type Page struct {
	ID       int64  `db:"id"`
	ParentID *int64 `db:"parent_id"`
	Title    string `db:"title"`
	Slug     string `db:"slug"`
}

// IsRoot reports whether the page is the tree root.
func (p *Page) IsRoot() bool {
	return p.ParentID == nil
}

// Edge is the (id, parent_id, slug) projection of a page.
type Edge struct {
	ID       int64  `db:"id"`
	ParentID *int64 `db:"parent_id"`
	Slug     string `db:"slug"`
}

// PageRevision is one immutable content snapshot of a page.
type PageRevision struct {
	ID              int64  `db:"id"`
	PageID          int64  `db:"page_id"`
	ISOTime         string `db:"iso_time"`
	UnixTime        int64  `db:"unix_time"`
	HTML            string `db:"html"`
	Markdown        string `db:"markdown"`
	SidebarHTML     string `db:"sidebar_html"`
	SidebarMarkdown string `db:"sidebar_markdown"`
}

// BodyHTML returns the rendered body for templates. The HTML was sanitized
// when the revision was rendered.
func (r *PageRevision) BodyHTML() template.HTML {
	return template.HTML(r.HTML)
}

// SidebarBodyHTML returns the rendered sidebar for templates.
func (r *PageRevision) SidebarBodyHTML() template.HTML {
	return template.HTML(r.SidebarHTML)
}

// RevisionView is a revision together with its position in the page history,
// all read from one consistent snapshot.
type RevisionView struct {
	Revision *PageRevision
	Ordinal  int
	Count    int
	IsLatest bool
}

// Descendants returns id and the ids of every page below it, parents before
// children.
func Descendants(edges []Edge, id int64) []int64 {
	children := make(map[int64][]int64, len(edges))
	for _, e := range edges {
		if e.ParentID != nil {
			children[*e.ParentID] = append(children[*e.ParentID], e.ID)
		}
	}

	ids := []int64{id}
	seen := map[int64]bool{id: true}
	for i := 0; i < len(ids); i++ {
		for _, child := range children[ids[i]] {
			if seen[child] {
				continue
			}
			seen[child] = true
			ids = append(ids, child)
		}
	}
	return ids
}
