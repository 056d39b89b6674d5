package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go-treewiki/internal/data"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/middleware"
	"go-treewiki/internal/pathcodec"
	"go-treewiki/internal/service"
	"go-treewiki/internal/view"

	"github.com/go-chi/chi/v5"
)

// PageHandler holds the dependencies for the page handlers.
type PageHandler struct {
	wiki service.WikiServicer
	view middleware.Renderer
	log  logger.Logger
}

// NewPageHandler creates a new PageHandler with the given dependencies.
func NewPageHandler(ws service.WikiServicer, v middleware.Renderer, log logger.Logger) *PageHandler {
	return &PageHandler{
		wiki: ws,
		view: v,
		log:  log,
	}
}

// pagePath returns the page path captured by a "/.../pages/*" route.
func pagePath(r *http.Request) string {
	return pathcodec.Normalize(chi.URLParam(r, "*"))
}

// parseRev reads the optional zero-based "rev" query parameter.
func parseRev(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("rev")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid revision %q", raw)
	}
	return &n, nil
}

// appError maps service errors onto HTTP responses.
func appError(err error, message string) *middleware.AppError {
	switch {
	case errors.Is(err, data.ErrPageNotFound):
		return &middleware.AppError{Error: err, Message: "Page not found", Code: http.StatusNotFound}
	case errors.Is(err, data.ErrRevisionNotFound):
		return &middleware.AppError{Error: err, Message: "Revision not found", Code: http.StatusNotFound}
	case errors.Is(err, data.ErrRootDeletionForbidden):
		return &middleware.AppError{Error: err, Message: "The root page cannot be deleted", Code: http.StatusForbidden}
	case errors.Is(err, data.ErrLastRevision):
		return &middleware.AppError{Error: err, Message: "The only revision of a page cannot be deleted", Code: http.StatusConflict}
	case errors.Is(err, data.ErrDuplicateSlug):
		return &middleware.AppError{Error: err, Message: "A sibling page already uses this slug", Code: http.StatusConflict}
	case errors.Is(err, data.ErrInvalidSlug), errors.Is(err, data.ErrRootExists):
		return &middleware.AppError{Error: err, Message: "Invalid slug: use lower-case letters, digits and dashes", Code: http.StatusBadRequest}
	default:
		return &middleware.AppError{Error: err, Message: message, Code: http.StatusInternalServerError}
	}
}

// isFormError reports whether err should be shown next to the submitted form.
func isFormError(err error) bool {
	return errors.Is(err, data.ErrDuplicateSlug) || errors.Is(err, data.ErrInvalidSlug)
}

func formInput(r *http.Request) service.PageInput {
	return service.PageInput{
		Title:   r.PostFormValue("title"),
		Slug:    strings.ToLower(strings.TrimSpace(r.PostFormValue("slug"))),
		Body:    r.PostFormValue("body"),
		Sidebar: r.PostFormValue("sidebar"),
	}
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, name string, data map[string]interface{}) *middleware.AppError {
	return renderStatus(w, r, h.view, http.StatusOK, name, data)
}

// renderStatus renders a template with the current user added to data.
func renderStatus(w http.ResponseWriter, r *http.Request, v middleware.Renderer, code int, name string, data map[string]interface{}) *middleware.AppError {
	data["User"] = middleware.GetUserInfo(r.Context())
	var buf bytes.Buffer
	if err := v.Render(&buf, r, name, data); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render page", Code: http.StatusInternalServerError}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	buf.WriteTo(w)
	return nil
}

// viewHandler renders a page, optionally at an older revision.
func (h *PageHandler) viewHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	rev, err := parseRev(r)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid revision", Code: http.StatusBadRequest}
	}

	pv, err := h.wiki.ViewPage(r.Context(), pagePath(r), rev)
	if err != nil {
		return appError(err, "Failed to load page")
	}

	return h.render(w, r, "page.html", map[string]interface{}{
		"View": pv,
		"Nav":  pv.Nav,
	})
}

// historyHandler lists the revisions of a page.
func (h *PageHandler) historyHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	path := pagePath(r)
	history, err := h.wiki.History(r.Context(), path)
	if err != nil {
		return appError(err, "Failed to load history")
	}
	nav, err := h.wiki.Nav(r.Context(), path)
	if err != nil {
		return appError(err, "Failed to load navigation")
	}

	return h.render(w, r, "history.html", map[string]interface{}{
		"History": history,
		"Nav":     nav,
	})
}

// rawHandler serves a revision as a markdown download.
func (h *PageHandler) rawHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	rev, err := parseRev(r)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid revision", Code: http.StatusBadRequest}
	}

	raw, err := h.wiki.RawMarkdown(r.Context(), pagePath(r), rev)
	if err != nil {
		return appError(err, "Failed to export page")
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", raw.Filename))
	if _, err := w.Write([]byte(raw.Content)); err != nil {
		h.log.Error(err, "failed to write raw page")
	}
	return nil
}

// createFormHandler displays the form for a new child page.
func (h *PageHandler) createFormHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	parent := pagePath(r)
	pv, err := h.wiki.ViewPage(r.Context(), parent, nil)
	if err != nil {
		return appError(err, "Failed to load parent page")
	}

	return h.render(w, r, "create.html", map[string]interface{}{
		"ParentPath": parent,
		"Form":       service.PageInput{},
		"Nav":        pv.Nav,
	})
}

// createHandler creates a child page and redirects to it.
func (h *PageHandler) createHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	parent := pagePath(r)
	in := formInput(r)

	_, path, err := h.wiki.CreatePage(r.Context(), parent, in)
	if err != nil {
		if isFormError(err) {
			ae := appError(err, "")
			return renderStatus(w, r, h.view, ae.Code, "create.html", map[string]interface{}{
				"ParentPath": parent,
				"Form":       in,
				"Error":      ae.Message,
			})
		}
		return appError(err, "Failed to create page")
	}

	http.Redirect(w, r, view.PageURL("", path), http.StatusSeeOther)
	return nil
}

// editFormHandler displays the form for editing a page.
func (h *PageHandler) editFormHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pv, err := h.wiki.ViewPage(r.Context(), pagePath(r), nil)
	if err != nil {
		return appError(err, "Failed to load page")
	}

	return h.render(w, r, "edit.html", map[string]interface{}{
		"View": pv,
		"Nav":  pv.Nav,
		"Form": service.PageInput{
			Title:   pv.Page.Title,
			Slug:    pv.Page.Slug,
			Body:    pv.Revision.Markdown,
			Sidebar: pv.Revision.SidebarMarkdown,
		},
	})
}

// editHandler saves a new revision and redirects to the page's current path.
func (h *PageHandler) editHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	path := pagePath(r)
	in := formInput(r)

	_, newPath, err := h.wiki.EditPage(r.Context(), path, in)
	if err != nil {
		if isFormError(err) {
			pv, viewErr := h.wiki.ViewPage(r.Context(), path, nil)
			if viewErr != nil {
				return appError(viewErr, "Failed to load page")
			}
			ae := appError(err, "")
			return renderStatus(w, r, h.view, ae.Code, "edit.html", map[string]interface{}{
				"View":  pv,
				"Nav":   pv.Nav,
				"Form":  in,
				"Error": ae.Message,
			})
		}
		return appError(err, "Failed to update page")
	}

	http.Redirect(w, r, view.PageURL("", newPath), http.StatusSeeOther)
	return nil
}

// deleteHandler removes a page and its subtree, then redirects to the parent.
func (h *PageHandler) deleteHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	path := pagePath(r)
	if err := h.wiki.DeletePage(r.Context(), path); err != nil {
		return appError(err, "Failed to delete page")
	}

	parent := ""
	if i := strings.LastIndex(path, "/"); i >= 0 {
		parent = path[:i]
	}
	http.Redirect(w, r, view.PageURL("", parent), http.StatusSeeOther)
	return nil
}

// deleteRevisionHandler removes the revision given by "rev" and returns to the history.
func (h *PageHandler) deleteRevisionHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	rev, err := parseRev(r)
	if err != nil || rev == nil {
		return &middleware.AppError{Error: err, Message: "A revision is required", Code: http.StatusBadRequest}
	}

	path := pagePath(r)
	if err := h.wiki.DeleteRevision(r.Context(), path, *rev); err != nil {
		return appError(err, "Failed to delete revision")
	}

	http.Redirect(w, r, view.PageURL("/history", path), http.StatusSeeOther)
	return nil
}
