// Package fsprobe implements the filesystem-truth predicate the reconciler
// uses to recover from a crashed ocr-coordinator: a document is OCR-complete
// iff its txt/{meeting}/{date}/ directory contains at least one .txt file,
// independent of whatever the job queue's counters currently say. Grounded
// on the teacher's platform/localmedia.Tools directory-walking idiom
// (os.ReadDir, filepath.Join, no third-party fs library in the pack).
package fsprobe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DocKey identifies one document within a site's directory layout by its
// meeting and date, matching the path segments pdfs/{meeting}/{date}.pdf
// and txt/{meeting}/{date}/ use throughout the filesystem contract.
type DocKey struct {
	Meeting string
	Date    string
}

// FilesystemProbe is the collaborator contract a reconciler or worker uses
// to read pipeline-produced filesystem state back as ground truth, rather
// than trusting job_run/site counters that may be stale after a crash.
type FilesystemProbe interface {
	// CountOCRComplete walks {root}/{subdomain}/txt and returns, for every
	// meeting/date directory found under pdfs, whether its txt counterpart
	// contains at least one .txt file.
	CountOCRComplete(subdomain string) (map[DocKey]bool, error)
}

type probe struct {
	root string
}

// New constructs a FilesystemProbe rooted at the configured storage root
// (spec.md §6's "{root}/{subdomain}/...").
func New(root string) FilesystemProbe {
	return &probe{root: root}
}

// ListDocs returns the DocKey for every PDF found under
// {root}/{subdomain}/pdfs, the same discovery fetch workers use to build
// one ocr-page child per fetched document.
func ListDocs(root, subdomain string) ([]DocKey, error) {
	docs, err := discoverDocs(filepath.Join(root, subdomain, "pdfs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return docs, nil
}

func (p *probe) CountOCRComplete(subdomain string) (map[DocKey]bool, error) {
	if subdomain == "" {
		return nil, fmt.Errorf("fsprobe: subdomain required")
	}
	pdfRoot := filepath.Join(p.root, subdomain, "pdfs")
	txtRoot := filepath.Join(p.root, subdomain, "txt")

	docs, err := discoverDocs(pdfRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return map[DocKey]bool{}, nil
		}
		return nil, fmt.Errorf("fsprobe: discover documents for %s: %w", subdomain, err)
	}

	out := make(map[DocKey]bool, len(docs))
	for _, key := range docs {
		out[key] = hasTxtFiles(filepath.Join(txtRoot, key.Meeting, key.Date))
	}
	return out, nil
}

// discoverDocs walks {pdfRoot}/{meeting}/{date}.pdf and returns one DocKey
// per document found.
func discoverDocs(pdfRoot string) ([]DocKey, error) {
	meetings, err := os.ReadDir(pdfRoot)
	if err != nil {
		return nil, err
	}
	var docs []DocKey
	for _, m := range meetings {
		if !m.IsDir() {
			continue
		}
		meetingDir := filepath.Join(pdfRoot, m.Name())
		entries, err := os.ReadDir(meetingDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if strings.ToLower(filepath.Ext(e.Name())) != ".pdf" {
				continue
			}
			date := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			docs = append(docs, DocKey{Meeting: m.Name(), Date: date})
		}
	}
	return docs, nil
}

// hasTxtFiles reports whether dir exists and contains at least one .txt
// file, per spec.md §6's OCR-complete predicate.
func hasTxtFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) == ".txt" {
			return true
		}
	}
	return false
}
