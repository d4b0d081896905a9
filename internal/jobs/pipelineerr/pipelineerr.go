// Package pipelineerr classifies handler failures into the three-class
// taxonomy described in §7: transient (retry, counters untouched), permanent
// (advance counters, pipeline progresses), and critical (block fan-in,
// surface to the reconciler/operator).
package pipelineerr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Class is the propagation policy bucket a failure falls into.
type Class int

const (
	// Transient errors never touch counters; the job is re-raised and the
	// queue retries with backoff.
	Transient Class = iota
	// Permanent errors advance stage counters via IncrementFailed and let
	// the pipeline progress; the site's last-error fields are updated.
	Permanent
	// Critical errors never advance counters and always block the
	// coordinator; only the reconciler or an operator can unstick them.
	Critical
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Known fingerprints, grouping semantically identical failures for
// downstream aggregation. Matching is substring/regexp-based against the
// error's message text, never stack-trace-based.
const (
	FingerprintPDFFailedToRead    = "pdf-failed-to-read"
	FingerprintPDFFailedToProcess = "pdf-failed-to-process"
	FingerprintPDFFileNotFound    = "pdf-file-not-found"
	FingerprintNoTextFilesFound   = "no-text-files-found"
	FingerprintErrorFetchingYear  = "error-fetching-year"
	FingerprintOCRCoordinatorFail = "ocr-coordinator-failed"
	FingerprintEmptyPDFFile       = "empty-pdf-file"
	FingerprintFileNotFoundPDF    = "file-not-found:pdf"
	FingerprintFileNotFoundTXT    = "file-not-found:txt"
	FingerprintFileNotFoundOther  = "file-not-found:other"
	FingerprintUnclassified       = "unclassified"
)

// FingerprintFetchError builds the domain-qualified fetch-error fingerprint
// (fetch-error:<domain>).
func FingerprintFetchError(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "fetch-error"
	}
	return "fetch-error:" + domain
}

// PipelineError wraps an underlying cause with its classification and
// fingerprint. It satisfies errors.Unwrap so errors.Is/errors.As still see
// through to Cause.
type PipelineError struct {
	Class       Class
	Fingerprint string
	Cause       error
}

func (e *PipelineError) Error() string {
	if e == nil || e.Cause == nil {
		return fmt.Sprintf("pipelineerr: %s (%s)", e.Fingerprint, e.Class)
	}
	return fmt.Sprintf("%s: %s", e.Fingerprint, e.Cause.Error())
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// New wraps cause as a PipelineError of the given class/fingerprint.
func New(class Class, fingerprint string, cause error) *PipelineError {
	return &PipelineError{Class: class, Fingerprint: fingerprint, Cause: cause}
}

// NewTransient wraps cause as a retryable, counter-untouched failure.
func NewTransient(fingerprint string, cause error) *PipelineError {
	return New(Transient, fingerprint, cause)
}

// NewPermanent wraps cause as a counter-advancing failure.
func NewPermanent(fingerprint string, cause error) *PipelineError {
	return New(Permanent, fingerprint, cause)
}

// NewCritical wraps cause as a fan-in-blocking failure.
func NewCritical(fingerprint string, cause error) *PipelineError {
	return New(Critical, fingerprint, cause)
}

var (
	reFetchError      = regexp.MustCompile(`(?i)fetch[- ]error(?::\s*([a-zA-Z0-9.\-]+))?`)
	reTimeout         = regexp.MustCompile(`(?i)(timeout|timed out|connection reset|i/o timeout|temporary failure|deadline exceeded)`)
	reMissingBinary   = regexp.MustCompile(`(?i)(executable file not found|no such file or directory.*(tesseract|soffice)|missing binary)`)
	rePermissionOrCfg = regexp.MustCompile(`(?i)(permission denied|missing storage root|storage root (is )?not configured|misconfigur)`)
	reOCRCoordinator  = regexp.MustCompile(`(?i)ocr[- ]coordinator`)
	reEmptyPDF        = regexp.MustCompile(`(?i)(empty pdf|zero[- ]byte pdf|empty[- ]pdf[- ]file)`)
	rePDFCorrupt      = regexp.MustCompile(`(?i)(failed to process pdf|corrupt(ed)? (pdf|document)|malformed pdf)`)
	rePDFUnreadable   = regexp.MustCompile(`(?i)(failed to read pdf|cannot open pdf|pdf parse error)`)
	reNoTextFiles     = regexp.MustCompile(`(?i)no (\.txt|text) files? found`)
	reErrorFetchYear  = regexp.MustCompile(`(?i)error fetching year`)
	reFileNotFoundPDF = regexp.MustCompile(`(?i)\.pdf[^a-z0-9]*not found|pdf file not found`)
	reFileNotFoundTXT = regexp.MustCompile(`(?i)\.txt[^a-z0-9]*not found|txt file not found`)
	reFileNotFound    = regexp.MustCompile(`(?i)(file not found|no such file or directory)`)
)

// Classify pattern-matches err's message against the §7 fingerprint
// taxonomy. If err is already a *PipelineError it is returned unchanged. An
// unrecognized error classifies as Critical with fingerprint "unclassified"
// -- an unclassified failure is, by definition, one nobody has told the
// coordinator how to treat safely, so it must not auto-advance the pipeline.
func Classify(err error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}

	msg := err.Error()

	switch {
	case reTimeout.MatchString(msg):
		if m := reFetchError.FindStringSubmatch(msg); m != nil {
			fp := FingerprintFetchError(m[1])
			return New(Transient, fp, err)
		}
		return New(Transient, "network-timeout", err)

	case reFetchError.MatchString(msg):
		m := reFetchError.FindStringSubmatch(msg)
		domain := ""
		if len(m) > 1 {
			domain = m[1]
		}
		return New(Permanent, FingerprintFetchError(domain), err)

	case reErrorFetchYear.MatchString(msg):
		return New(Permanent, FingerprintErrorFetchingYear, err)

	case reEmptyPDF.MatchString(msg):
		return New(Permanent, FingerprintEmptyPDFFile, err)

	case rePDFUnreadable.MatchString(msg):
		return New(Permanent, FingerprintPDFFailedToRead, err)

	case rePDFCorrupt.MatchString(msg):
		return New(Permanent, FingerprintPDFFailedToProcess, err)

	case reFileNotFoundPDF.MatchString(msg):
		return New(Permanent, FingerprintPDFFileNotFound, err)

	case reFileNotFoundTXT.MatchString(msg):
		return New(Permanent, FingerprintFileNotFoundTXT, err)

	case reNoTextFiles.MatchString(msg):
		return New(Permanent, FingerprintNoTextFilesFound, err)

	case reOCRCoordinator.MatchString(msg):
		return New(Permanent, FingerprintOCRCoordinatorFail, err)

	case reMissingBinary.MatchString(msg), rePermissionOrCfg.MatchString(msg):
		return New(Critical, "infra-misconfigured", err)

	case reFileNotFound.MatchString(msg):
		return New(Permanent, FingerprintFileNotFoundOther, err)

	default:
		return New(Critical, FingerprintUnclassified, err)
	}
}
