package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/httpx"
)

// Scraper is the fetch-stage collaborator: it downloads a site's source
// documents into STORAGE_ROOT/{subdomain}/pdfs/{meeting}/{date}.pdf and
// reports how many were fetched. The fetch worker does not size its fan-out
// from that count: it lists the PDFs on disk (fsprobe.ListDocs) and creates
// one ocr-page job per document found.
// Tagged by Site.Scraper, grounded on hookspecs.py's fetcher_class hookpoint.
type Scraper interface {
	Fetch(ctx context.Context, site *types.Site, storageRoot string) (docCount int, err error)
}

var scraperRegistry = newTaggedRegistry[Scraper]()

// RegisterScraper adds a Scraper implementation under the given tag. Called
// from init() in this package; panics on a duplicate tag since that is
// always a wiring bug, never a runtime condition.
func RegisterScraper(tag string, s Scraper) {
	if err := scraperRegistry.register(tag, s); err != nil {
		panic(err)
	}
}

// GetScraper resolves a Site.Scraper tag to its implementation.
func GetScraper(tag string) (Scraper, bool) {
	return scraperRegistry.get(tag)
}

func init() {
	RegisterScraper("dummy", &DummyScraper{})
	RegisterScraper("http", &HTTPScraper{Client: &http.Client{Timeout: 30 * time.Second}})
}

// DummyScraper writes a small fixed set of placeholder documents for a site
// instead of fetching anything over the network. Grounded on plugins.py's
// DummyPlugins, used for local development and the test/demo fixture sites
// named in spec.md's Open Questions around a "dummy" scraper tag.
type DummyScraper struct {
	// DocCount is how many placeholder documents to synthesize; defaults to
	// 2 if unset.
	DocCount int
}

func (d *DummyScraper) Fetch(ctx context.Context, site *types.Site, storageRoot string) (int, error) {
	n := d.DocCount
	if n <= 0 {
		n = 2
	}
	pdfRoot := filepath.Join(storageRoot, site.Subdomain, "pdfs", "council")
	if err := os.MkdirAll(pdfRoot, 0o755); err != nil {
		return 0, fmt.Errorf("dummy scraper: mkdir %s: %w", pdfRoot, err)
	}
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		date := base.AddDate(0, 0, -i).Format("2006-01-02")
		path := filepath.Join(pdfRoot, date+".pdf")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte("%PDF-1.4\n% placeholder document\n"), 0o644); err != nil {
			return 0, fmt.Errorf("dummy scraper: write %s: %w", path, err)
		}
	}
	return n, nil
}

// HTTPScraper downloads a fixed list of document URLs (carried in
// Site.Extra's "document_urls" array) into the site's pdfs tree, one
// subdirectory per meeting body. Grounded on the teacher's platform HTTP
// client conventions (plain *http.Client, context-bound requests, explicit
// status-code checks) since the pack carries no third-party HTTP client
// library for outbound scraping.
type HTTPScraper struct {
	Client *http.Client
}

type httpScraperExtra struct {
	DocumentURLs []httpScraperDoc `json:"document_urls"`
}

type httpScraperDoc struct {
	Meeting string `json:"meeting"`
	Date    string `json:"date"`
	URL     string `json:"url"`
}

func (h *HTTPScraper) Fetch(ctx context.Context, site *types.Site, storageRoot string) (int, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	docs, err := parseHTTPScraperExtra(site)
	if err != nil {
		return 0, fmt.Errorf("fetch-error:%s: %w", site.Subdomain, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	fetched := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}
		meeting := strings.TrimSpace(d.Meeting)
		date := strings.TrimSpace(d.Date)
		if meeting == "" || date == "" || d.URL == "" {
			continue
		}
		dir := filepath.Join(storageRoot, site.Subdomain, "pdfs", meeting)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fetched, fmt.Errorf("fetch-error:%s: mkdir %s: %w", site.Subdomain, dir, err)
		}
		dest := filepath.Join(dir, date+".pdf")
		if err := downloadTo(ctx, client, d.URL, dest); err != nil {
			return fetched, fmt.Errorf("fetch-error:%s: %w", site.Subdomain, err)
		}
		fetched++
	}
	return fetched, nil
}

// downloadTo fetches url into dest, retrying up to 3 attempts total on
// transient network errors and retryable HTTP statuses (429, 408, 5xx).
// The wait before each retry is a jittered attempt*500ms; a Retry-After
// header is not consulted.
func downloadTo(ctx context.Context, client *http.Client, url, dest string) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := doDownloadAttempt(ctx, client, url)
		if err == nil {
			return writeDownloadResponse(resp, url, dest)
		}
		lastErr = err
		if attempt == maxAttempts || !httpx.IsRetryableError(err) {
			return err
		}
		sleep := httpx.JitterSleep(time.Duration(attempt) * 500 * time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

type statusCodeError struct {
	status string
	code   int
}

func (e *statusCodeError) Error() string {
	return fmt.Sprintf("error fetching document: unexpected status %s", e.status)
}
func (e *statusCodeError) HTTPStatusCode() int { return e.code }

func doDownloadAttempt(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &statusCodeError{status: resp.Status, code: resp.StatusCode}
	}
	return resp, nil
}

func writeDownloadResponse(resp *http.Response, url, dest string) error {
	defer resp.Body.Close()

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("pdf-failed-to-read: create %s: %w", tmp, err)
	}
	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("pdf-failed-to-read: write %s: %w", tmp, err)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("pdf-failed-to-read: close %s: %w", tmp, closeErr)
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return fmt.Errorf("empty pdf file: %s", url)
	}
	return os.Rename(tmp, dest)
}

func parseHTTPScraperExtra(site *types.Site) ([]httpScraperDoc, error) {
	if site == nil || len(site.Extra) == 0 {
		return nil, nil
	}
	var extra httpScraperExtra
	if err := json.Unmarshal(site.Extra, &extra); err != nil {
		return nil, err
	}
	return extra.DocumentURLs, nil
}
