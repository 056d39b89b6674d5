// Package nav renders the page tree as a navigation list that expands only
// the branch leading to the page being viewed.
package nav

import (
	"html/template"
	"sort"
	"strings"

	"go-treewiki/internal/data"
)

// DefaultPrefix is the URL prefix of page links.
const DefaultPrefix = "/pages"

// Builder renders navigation trees. It holds no state between calls.
type Builder struct {
	prefix string
}

// NewBuilder creates a Builder whose links start with prefix.
func NewBuilder(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

type node struct {
	id       int64
	slug     string
	children []*node
}

// buildTree links the edge set into a tree under the parentless page.
// It returns nil when there is no root.
func buildTree(edges []data.Edge) *node {
	nodes := make(map[int64]*node, len(edges))
	for _, e := range edges {
		nodes[e.ID] = &node{id: e.ID, slug: e.Slug}
	}

	var root *node
	for _, e := range edges {
		n := nodes[e.ID]
		if e.ParentID == nil {
			if root == nil {
				root = n
				// The root is always rendered under the empty segment.
				root.slug = ""
			}
			continue
		}
		if parent, ok := nodes[*e.ParentID]; ok {
			parent.children = append(parent.children, n)
		}
	}

	for _, n := range nodes {
		sort.Slice(n.children, func(i, j int) bool {
			a, b := n.children[i], n.children[j]
			if a.slug != b.slug {
				return a.slug < b.slug
			}
			return a.id < b.id
		})
	}
	return root
}

// activeSegments returns the root's empty segment followed by the segments of path.
func activeSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{""}
	}
	return append([]string{""}, strings.Split(path, "/")...)
}

// emitter receives the depth-first walk of the visible tree.
type emitter interface {
	item(pad []bool, isLast bool, href, label string)
	openChildren()
	closeChildren()
	endItem()
}

// walk renders n and, when n lies on the active path, its children.
// pad holds one entry per level below the root: true when the node at that
// level was the last of its siblings. Both segments and pad are treated as
// values; callees never see a sibling's changes.
func walk(n *node, acc string, segments []string, isLast bool, pad []bool, expandAll bool, out emitter) {
	label := n.slug
	if len(n.children) > 0 {
		label += "/"
	}
	href := acc + label
	out.item(pad, isLast, href, label)

	expand := len(n.children) > 0 && (expandAll || (len(segments) > 0 && segments[0] == n.slug))
	if expand {
		var rest []string
		if len(segments) > 0 {
			rest = segments[1:]
		}
		out.openChildren()
		for i, child := range n.children {
			last := i == len(n.children)-1
			childPad := append(pad[:len(pad):len(pad)], last)
			walk(child, href, rest, last, childPad, expandAll, out)
		}
		out.closeChildren()
	}
	out.endItem()
}

// Render returns the navigation list for edges with the branch leading to
// activePath expanded.
func (b *Builder) Render(edges []data.Edge, activePath string) template.HTML {
	var sb strings.Builder
	sb.WriteString("<ul>")
	if root := buildTree(edges); root != nil {
		walk(root, "", activeSegments(activePath), false, nil, false, &htmlEmitter{sb: &sb, prefix: b.prefix})
	}
	sb.WriteString("</ul>")
	return template.HTML(sb.String())
}

// RenderText renders the same tree as Render as indented plain text.
// With expandAll set every branch is shown regardless of activePath.
func (b *Builder) RenderText(edges []data.Edge, activePath string, expandAll bool) string {
	var sb strings.Builder
	if root := buildTree(edges); root != nil {
		walk(root, "", activeSegments(activePath), false, nil, expandAll, &textEmitter{sb: &sb})
	}
	return sb.String()
}

type htmlEmitter struct {
	sb     *strings.Builder
	prefix string
}

func (e *htmlEmitter) item(pad []bool, isLast bool, href, label string) {
	e.sb.WriteString("<li>")
	if len(pad) > 0 {
		for _, wasLast := range pad[:len(pad)-1] {
			if wasLast {
				e.sb.WriteString("&nbsp;&nbsp;&nbsp;")
			} else {
				e.sb.WriteString("|&nbsp;&nbsp;")
			}
		}
		if isLast {
			e.sb.WriteString("└──")
		} else {
			e.sb.WriteString("├──")
		}
	}
	e.sb.WriteString(`<a href="`)
	e.sb.WriteString(template.HTMLEscapeString(e.prefix + href))
	e.sb.WriteString(`">`)
	e.sb.WriteString(template.HTMLEscapeString(label))
	e.sb.WriteString("</a>")
}

func (e *htmlEmitter) openChildren()  { e.sb.WriteString("<ul>") }
func (e *htmlEmitter) closeChildren() { e.sb.WriteString("</ul>") }
func (e *htmlEmitter) endItem()       { e.sb.WriteString("</li>") }

type textEmitter struct {
	sb *strings.Builder
}

func (e *textEmitter) item(pad []bool, isLast bool, _ string, label string) {
	if len(pad) > 0 {
		for _, wasLast := range pad[:len(pad)-1] {
			if wasLast {
				e.sb.WriteString("    ")
			} else {
				e.sb.WriteString("│   ")
			}
		}
		if isLast {
			e.sb.WriteString("└── ")
		} else {
			e.sb.WriteString("├── ")
		}
	}
	e.sb.WriteString(label)
	e.sb.WriteString("\n")
}

func (e *textEmitter) openChildren()  {}
func (e *textEmitter) closeChildren() {}
func (e *textEmitter) endItem()       {}
