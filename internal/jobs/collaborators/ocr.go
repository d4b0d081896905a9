package collaborators

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
)

// OCRBackend is the ocr-page collaborator: it recognizes the text of one
// fetched document and returns it for the worker to write to the site's
// txt tree. Tagged tesseract|vision per spec.md §6; the worker falls back
// to tesseract and logs the downgrade when the configured tag is
// unavailable at runtime (e.g. the vision client failed to construct).
type OCRBackend interface {
	Recognize(ctx context.Context, imagePath string) (text string, err error)
}

var ocrRegistry = newTaggedRegistry[OCRBackend]()

func RegisterOCRBackend(tag string, b OCRBackend) {
	if err := ocrRegistry.register(tag, b); err != nil {
		panic(err)
	}
}

// GetOCRBackend resolves a backend tag, falling back to "tesseract" if the
// requested tag isn't registered (e.g. vision was never configured). The
// bool return reports whether a fallback occurred so callers can log it.
func GetOCRBackend(tag string) (backend OCRBackend, fellBack bool) {
	if b, ok := ocrRegistry.get(tag); ok {
		return b, false
	}
	b, _ := ocrRegistry.get("tesseract")
	return b, true
}

func init() {
	RegisterOCRBackend("tesseract", &TesseractBackend{Binary: "tesseract"})
	if b, err := newVisionBackend(); err == nil {
		RegisterOCRBackend("vision", b)
	}
}

// TesseractBackend shells out to the tesseract binary, grounded on the
// teacher's platform/localmedia convention of invoking external binaries
// (ffmpeg/soffice) via os/exec rather than a Go-native library, since no
// example repo vendors a pure-Go OCR engine.
type TesseractBackend struct {
	Binary string
}

func (t *TesseractBackend) Recognize(ctx context.Context, imagePath string) (string, error) {
	binary := t.Binary
	if binary == "" {
		binary = "tesseract"
	}
	if _, err := os.Stat(imagePath); err != nil {
		return "", fmt.Errorf("pdf file not found: %s: %w", imagePath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	// tesseract <input> stdout writes the recognized text to stdout when the
	// output base is "-".
	cmd := exec.CommandContext(ctx, binary, imagePath, "-", "--psm", "3")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, lookErr := exec.LookPath(binary); lookErr != nil {
			return "", fmt.Errorf("missing binary %q: %w", binary, lookErr)
		}
		return "", fmt.Errorf("pdf failed to process %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// VisionBackend recognizes text via Google Cloud Vision's document text
// detection, a teacher dependency (cloud.google.com/go/vision/v2).
type VisionBackend struct {
	client *vision.ImageAnnotatorClient
}

func newVisionBackend() (*VisionBackend, error) {
	ctx := context.Background()
	c, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, err
	}
	return &VisionBackend{client: c}, nil
}

func (v *VisionBackend) Recognize(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("pdf file not found: %s: %w", imagePath, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty pdf file: %s", imagePath)
	}

	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	img := &visionpb.Image{Content: data}
	annotation, err := v.client.DetectDocumentText(ctx, img, nil)
	if err != nil {
		return "", fmt.Errorf("pdf failed to process %s: %w", imagePath, err)
	}
	if annotation == nil {
		return "", nil
	}
	return annotation.Text, nil
}

func (v *VisionBackend) Close() error {
	if v == nil || v.client == nil {
		return nil
	}
	return v.client.Close()
}
