package handler

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"go-treewiki/internal/logger"
	"go-treewiki/internal/service"
	"go-treewiki/internal/view"
)

// SeoHandler holds dependencies for SEO-related handlers.
type SeoHandler struct {
	wiki    service.WikiServicer
	baseURL string
	log     logger.Logger
}

// NewSeoHandler creates a new SeoHandler. baseURL is the public origin of the
// wiki, e.g. "https://wiki.example.com".
func NewSeoHandler(ws service.WikiServicer, baseURL string, log logger.Logger) *SeoHandler {
	return &SeoHandler{wiki: ws, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// robotsHandler serves robots.txt.
func (h *SeoHandler) robotsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "User-agent: *")
	fmt.Fprintln(w, "Allow: /pages/")
	fmt.Fprintln(w, "Disallow: /edit/")
	fmt.Fprintln(w, "Disallow: /create/")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Sitemap: %s/sitemap.xml\n", h.baseURL)
}

const sitemapDateFormat = "2006-01-02"

type sitemapURL struct {
	XMLName xml.Name `xml:"url"`
	Loc     string   `xml:"loc"`
	LastMod string   `xml:"lastmod,omitempty"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// sitemapHandler generates and serves a dynamic sitemap.xml.
func (h *SeoHandler) sitemapHandler(w http.ResponseWriter, r *http.Request) {
	pages, err := h.wiki.ListPages(r.Context())
	if err != nil {
		h.log.Error(err, "failed to list pages for sitemap")
		http.Error(w, "Failed to retrieve pages for sitemap", http.StatusInternalServerError)
		return
	}

	sitemap := urlSet{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  make([]sitemapURL, len(pages)),
	}
	for i, page := range pages {
		u := sitemapURL{Loc: h.baseURL + view.PageURL("", page.Path)}
		if !page.UpdatedAt.IsZero() {
			u.LastMod = page.UpdatedAt.Format(sitemapDateFormat)
		}
		sitemap.URLs[i] = u
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(sitemap); err != nil {
		h.log.Error(err, "failed to encode sitemap")
	}
}
