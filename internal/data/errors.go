package data

import (
	"errors"
	"fmt"

	"github.com/gosimple/slug"
)

var (
	// ErrPageNotFound is returned when a path or id does not resolve to a page.
	ErrPageNotFound = errors.New("page not found")
	// ErrRevisionNotFound is returned when a page has no revision at the requested ordinal.
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrRootDeletionForbidden is returned when deleting the root page is attempted.
	ErrRootDeletionForbidden = errors.New("the root page cannot be deleted")
	// ErrRootExists is returned when a second parentless page is created.
	ErrRootExists = errors.New("root page already exists")
	// ErrDuplicateSlug is returned when a sibling already uses the slug.
	ErrDuplicateSlug = errors.New("a sibling page already uses this slug")
	// ErrLastRevision is returned when removing the only revision a page has.
	ErrLastRevision = errors.New("the only revision of a page cannot be deleted")
	// ErrInvalidSlug is returned for slugs that are not a single URL-safe segment.
	ErrInvalidSlug = errors.New("invalid slug")
)

// ValidateSlug checks that s can be used as the path segment of a non-root page.
func ValidateSlug(s string) error {
	if s == "" || !slug.IsSlug(s) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, s)
	}
	return nil
}
