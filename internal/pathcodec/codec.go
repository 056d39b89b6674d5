// Package pathcodec maps slash-delimited wiki paths to pages and back.
package pathcodec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-treewiki/internal/data"
)

// ErrCorruptTree is returned when the parent links contain a cycle or point
// at a missing page.
var ErrCorruptTree = errors.New("page tree is corrupt")

// TreeSource is the subset of the page store the codec walks.
type TreeSource interface {
	AllEdges(ctx context.Context) ([]data.Edge, error)
	GetPageByID(ctx context.Context, id int64) (*data.Page, error)
}

// Codec resolves paths against the current page tree. It holds no state
// between calls.
type Codec struct {
	src TreeSource
}

// New creates a Codec over src.
func New(src TreeSource) *Codec {
	return &Codec{src: src}
}

// Normalize trims surrounding slashes. The empty string denotes the root.
func Normalize(path string) string {
	return strings.Trim(path, "/")
}

// Join appends slug to a logical parent path.
func Join(parent, slug string) string {
	parent = Normalize(parent)
	if parent == "" {
		return slug
	}
	return parent + "/" + slug
}

// Resolve returns the page whose path equals path.
func (c *Codec) Resolve(ctx context.Context, path string) (*data.Page, error) {
	edges, err := c.src.AllEdges(ctx)
	if err != nil {
		return nil, err
	}

	want := Normalize(path)
	if want != "" {
		want = "/" + want
	}

	acc := accumulator(edges)
	for _, e := range edges {
		got, err := acc(e.ID)
		if err != nil {
			return nil, err
		}
		if got == want {
			return c.src.GetPageByID(ctx, e.ID)
		}
	}
	return nil, fmt.Errorf("%w: %q", data.ErrPageNotFound, Normalize(path))
}

// PathOf returns the logical path of the page with the given id.
func (c *Codec) PathOf(ctx context.Context, id int64) (string, error) {
	edges, err := c.src.AllEdges(ctx)
	if err != nil {
		return "", err
	}
	return PathIn(edges, id)
}

// Paths returns the logical path of every page.
func (c *Codec) Paths(ctx context.Context) (map[int64]string, error) {
	edges, err := c.src.AllEdges(ctx)
	if err != nil {
		return nil, err
	}
	return PathsIn(edges)
}

// PathIn returns the logical path of id within an already loaded edge set.
func PathIn(edges []data.Edge, id int64) (string, error) {
	found := false
	for _, e := range edges {
		if e.ID == id {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("%w: id %d", data.ErrPageNotFound, id)
	}
	p, err := accumulator(edges)(id)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(p, "/"), nil
}

// PathsIn returns the logical path of every page in an edge set.
func PathsIn(edges []data.Edge) (map[int64]string, error) {
	acc := accumulator(edges)
	paths := make(map[int64]string, len(edges))
	for _, e := range edges {
		p, err := acc(e.ID)
		if err != nil {
			return nil, err
		}
		paths[e.ID] = strings.TrimPrefix(p, "/")
	}
	return paths, nil
}

// accumulator returns a memoised recursive closure computing the stored form
// of each page's path: "" for the root, "/a/b" below it.
func accumulator(edges []data.Edge) func(id int64) (string, error) {
	byID := make(map[int64]data.Edge, len(edges))
	for _, e := range edges {
		byID[e.ID] = e
	}
	memo := make(map[int64]string, len(edges))
	visiting := make(map[int64]bool)

	var walk func(id int64) (string, error)
	walk = func(id int64) (string, error) {
		if p, ok := memo[id]; ok {
			return p, nil
		}
		e, ok := byID[id]
		if !ok {
			return "", fmt.Errorf("%w: dangling parent reference %d", ErrCorruptTree, id)
		}
		if visiting[id] {
			return "", fmt.Errorf("%w: cycle through page %d", ErrCorruptTree, id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		p := e.Slug
		if e.ParentID != nil {
			parent, err := walk(*e.ParentID)
			if err != nil {
				return "", err
			}
			p = parent + "/" + e.Slug
		}
		memo[id] = p
		return p, nil
	}
	return walk
}
