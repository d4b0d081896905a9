package collaborators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gorm.io/datatypes"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
)

func TestDummyScraper_WritesPlaceholderDocuments(t *testing.T) {
	root := t.TempDir()
	site := &types.Site{Subdomain: "springfield"}

	d := &DummyScraper{DocCount: 3}
	n, err := d.Fetch(context.Background(), site, root)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 documents, got %d", n)
	}

	entries, err := os.ReadDir(filepath.Join(root, site.Subdomain, "pdfs", "council"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 pdf files on disk, got %d", len(entries))
	}
}

func TestDummyScraper_DefaultsDocCount(t *testing.T) {
	d := &DummyScraper{}
	n, err := d.Fetch(context.Background(), &types.Site{Subdomain: "shelbyville"}, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected default doc count of 2, got %d", n)
	}
}

func TestHTTPScraper_DownloadsListedDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4\nbody"))
	}))
	defer srv.Close()

	root := t.TempDir()
	site := &types.Site{
		Subdomain: "capital-city",
		Extra: datatypes.JSON(`{"document_urls":[
			{"meeting":"council","date":"2024-01-01","url":"` + srv.URL + `"},
			{"meeting":"planning","date":"2024-01-15","url":"` + srv.URL + `"}
		]}`),
	}

	h := &HTTPScraper{Client: srv.Client()}
	n, err := h.Fetch(context.Background(), site, root)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 documents fetched, got %d", n)
	}

	for _, p := range []string{
		filepath.Join(root, site.Subdomain, "pdfs", "council", "2024-01-01.pdf"),
		filepath.Join(root, site.Subdomain, "pdfs", "planning", "2024-01-15.pdf"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}
}

func TestHTTPScraper_EmptyResponseIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	site := &types.Site{
		Subdomain: "ogdenville",
		Extra:     datatypes.JSON(`{"document_urls":[{"meeting":"council","date":"2024-01-01","url":"` + srv.URL + `"}]}`),
	}

	h := &HTTPScraper{Client: srv.Client()}
	if _, err := h.Fetch(context.Background(), site, t.TempDir()); err == nil {
		t.Fatalf("expected an error for a zero-byte download")
	}
}

func TestHTTPScraper_NoExtraIsANoop(t *testing.T) {
	h := &HTTPScraper{}
	n, err := h.Fetch(context.Background(), &types.Site{Subdomain: "north-haverbrook"}, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 documents fetched when Extra is empty, got %d", n)
	}
}
