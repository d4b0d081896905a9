package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yungbote/neurobridge-backend/internal/platform/gcp"
)

// Extractor is the optional extraction-stage collaborator (spec.md §9:
// "treat extraction as optional and linear between compilation and
// deploy"). It reads each fetched PDF a second time and writes a sibling
// "<date>.extract.json" file under the site's pdfs tree holding the
// Document AI result, for downstream consumers that want structured
// fields rather than raw OCR text.
type Extractor interface {
	Extract(ctx context.Context, subdomain, storageRoot string) error
}

// NoopExtractor realizes the "extraction disabled" branch of spec.md §9:
// a pass-through that does nothing and never fails. buildExtractor hands it
// to ExtractHandler whenever no Document AI processor is usable, so the
// handler needs no branch of its own; the extraction node is in the stage
// graph only when EXTRACTION_ENABLED is set.
type NoopExtractor struct{}

func (NoopExtractor) Extract(ctx context.Context, subdomain, storageRoot string) error { return nil }

// DocumentAIExtractor runs every fetched PDF for a site through Document AI
// and writes the structured result alongside the source PDF. Constructed
// only when EXTRACTION_ENABLED=true, since it requires Document AI
// processor configuration that most deployments won't carry.
type DocumentAIExtractor struct {
	Doc         gcp.Document
	ProjectID   string
	Location    string
	ProcessorID string
}

func (d *DocumentAIExtractor) Extract(ctx context.Context, subdomain, storageRoot string) error {
	pdfRoot := filepath.Join(storageRoot, subdomain, "pdfs")
	entries, err := os.ReadDir(pdfRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("extractor: read %s: %w", pdfRoot, err)
	}

	for _, meetingEntry := range entries {
		if !meetingEntry.IsDir() {
			continue
		}
		meetingDir := filepath.Join(pdfRoot, meetingEntry.Name())
		docEntries, err := os.ReadDir(meetingDir)
		if err != nil {
			continue
		}
		for _, docEntry := range docEntries {
			if docEntry.IsDir() || filepath.Ext(docEntry.Name()) != ".pdf" {
				continue
			}
			if err := d.extractOne(ctx, filepath.Join(meetingDir, docEntry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DocumentAIExtractor) extractOne(ctx context.Context, pdfPath string) error {
	outPath := pdfPath[:len(pdfPath)-len(filepath.Ext(pdfPath))] + ".extract.json"
	if _, err := os.Stat(outPath); err == nil {
		return nil
	}

	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("pdf-file-not-found: %s: %w", pdfPath, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty-pdf-file: %s", pdfPath)
	}

	result, err := d.Doc.ProcessBytes(ctx, gcp.DocAIProcessBytesRequest{
		ProjectID:   d.ProjectID,
		Location:    d.Location,
		ProcessorID: d.ProcessorID,
		MimeType:    "application/pdf",
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("pdf-failed-to-process: %s: %w", pdfPath, err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("extractor: marshal result for %s: %w", pdfPath, err)
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return fmt.Errorf("extractor: write %s: %w", outPath, err)
	}
	return nil
}
