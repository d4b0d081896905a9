package collaborators

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeFakeBinary(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell binaries are posix-only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-tesseract")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestTesseractBackend_RecognizesViaStubBinary(t *testing.T) {
	bin := writeFakeBinary(t, "echo 'recognized page text'")

	img := filepath.Join(t.TempDir(), "page.png")
	if err := os.WriteFile(img, []byte("fake image bytes"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	b := &TesseractBackend{Binary: bin}
	text, err := b.Recognize(context.Background(), img)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "recognized page text\n" {
		t.Fatalf("unexpected recognized text: %q", text)
	}
}

func TestTesseractBackend_MissingImageFile(t *testing.T) {
	b := &TesseractBackend{Binary: writeFakeBinary(t, "echo should-not-run")}
	_, err := b.Recognize(context.Background(), filepath.Join(t.TempDir(), "absent.png"))
	if err == nil {
		t.Fatalf("expected an error for a missing image file")
	}
}

func TestTesseractBackend_MissingBinary(t *testing.T) {
	img := filepath.Join(t.TempDir(), "page.png")
	if err := os.WriteFile(img, []byte("x"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	b := &TesseractBackend{Binary: "definitely-not-a-real-binary-xyz"}
	_, err := b.Recognize(context.Background(), img)
	if err == nil {
		t.Fatalf("expected an error for a missing binary")
	}
}

func TestGetOCRBackend_FallsBackToTesseract(t *testing.T) {
	backend, fellBack := GetOCRBackend("some-unconfigured-tag")
	if backend == nil {
		t.Fatalf("expected a fallback backend, got nil")
	}
	if !fellBack {
		t.Fatalf("expected fellBack=true for an unregistered tag")
	}
	if _, ok := backend.(*TesseractBackend); !ok {
		t.Fatalf("expected fallback backend to be tesseract, got %T", backend)
	}
}

func TestGetOCRBackend_ResolvesRegisteredTag(t *testing.T) {
	backend, fellBack := GetOCRBackend("tesseract")
	if backend == nil {
		t.Fatalf("expected tesseract to be registered")
	}
	if fellBack {
		t.Fatalf("expected fellBack=false when the requested tag is registered")
	}
}
