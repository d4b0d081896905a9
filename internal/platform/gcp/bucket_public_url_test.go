package gcp

import (
	"strings"
	"testing"
)

func TestResolveObjectStoragePublicBaseURLGCSDefault(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "")

	baseURL, source, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode: ObjectStorageModeGCS,
	})
	if err != nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: %v", err)
	}
	if baseURL != "" {
		t.Fatalf("baseURL: want empty got=%q", baseURL)
	}
	if source != "gcs_default" {
		t.Fatalf("source: want=%q got=%q", "gcs_default", source)
	}
}

func TestResolveObjectStoragePublicBaseURLEmulatorFallback(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "")

	baseURL, source, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		EmulatorHost: "http://fake-gcs:4443",
	})
	if err != nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: %v", err)
	}
	if baseURL != "http://fake-gcs:4443" {
		t.Fatalf("baseURL: want=%q got=%q", "http://fake-gcs:4443", baseURL)
	}
	if source != "storage_emulator_host" {
		t.Fatalf("source: want=%q got=%q", "storage_emulator_host", source)
	}
}

func TestResolveObjectStoragePublicBaseURLEnvOverride(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "http://localhost:4443/")

	baseURL, source, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		EmulatorHost: "http://fake-gcs:4443",
	})
	if err != nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: %v", err)
	}
	if baseURL != "http://localhost:4443" {
		t.Fatalf("baseURL: want=%q got=%q", "http://localhost:4443", baseURL)
	}
	if source != "object_storage_public_base_url" {
		t.Fatalf("source: want=%q got=%q", "object_storage_public_base_url", source)
	}
}

func TestResolveObjectStoragePublicBaseURLInvalidEnv(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "localhost:4443")

	_, _, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		EmulatorHost: "http://fake-gcs:4443",
	})
	if err == nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: expected error, got nil")
	}
}

func TestGetPublicURLGCSDefault(t *testing.T) {
	bs := &bucketService{bucketName: "deploy-bucket"}

	got := bs.GetPublicURL("springfield/index.html")
	want := "https://storage.googleapis.com/deploy-bucket/springfield/index.html"
	if got != want {
		t.Fatalf("GetPublicURL: want=%q got=%q", want, got)
	}
}

func TestGetPublicURLUsesPublicBaseURL(t *testing.T) {
	bs := &bucketService{
		publicBaseURL: "http://localhost:4443",
		bucketName:    "deploy-bucket",
	}

	got := bs.GetPublicURL("/springfield/meetings.db")
	want := "http://localhost:4443/deploy-bucket/springfield/meetings.db"
	if got != want {
		t.Fatalf("GetPublicURL: want=%q got=%q", want, got)
	}
}

func TestGetPublicURLUsesEmulatorMediaEndpoint(t *testing.T) {
	bs := &bucketService{
		storageMode:   ObjectStorageModeGCSEmulator,
		publicBaseURL: "http://localhost:4443",
		bucketName:    "deploy-bucket",
	}

	got := bs.GetPublicURL("springfield/minutes/abc/123.pdf")
	want := "http://localhost:4443/storage/v1/b/deploy-bucket/o/springfield%2Fminutes%2Fabc%2F123.pdf?alt=media"
	if got != want {
		t.Fatalf("GetPublicURL: want=%q got=%q", want, got)
	}
}

func TestGetPublicURLUsesEmulatorHostWhenPublicBaseMissing(t *testing.T) {
	bs := &bucketService{
		storageMode:  ObjectStorageModeGCSEmulator,
		emulatorHost: "http://fake-gcs:4443",
		bucketName:   "deploy-bucket",
	}

	got := bs.GetPublicURL("/springfield/minutes/abc/123.pdf")
	want := "http://fake-gcs:4443/storage/v1/b/deploy-bucket/o/springfield%2Fminutes%2Fabc%2F123.pdf?alt=media"
	if got != want {
		t.Fatalf("GetPublicURL: want=%q got=%q", want, got)
	}
}

func TestEmulatorPublicURLSmokeRenderableAssets(t *testing.T) {
	bs := &bucketService{
		storageMode:   ObjectStorageModeGCSEmulator,
		publicBaseURL: "http://localhost:4443",
		bucketName:    "deploy-bucket",
	}

	cases := []struct {
		name   string
		key    string
		wantCT string
	}{
		{name: "compiled database", key: "springfield/meetings.db", wantCT: "application/x-sqlite3"},
		{name: "site page", key: "springfield/index.html", wantCT: "text/html; charset=utf-8"},
		{name: "source pdf", key: "springfield/pdfs/council/2024-01-01.pdf", wantCT: "application/pdf"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			publicURL := bs.GetPublicURL(tc.key)
			if !strings.HasPrefix(publicURL, "http://localhost:4443/storage/v1/b/deploy-bucket/o/") {
				t.Fatalf("publicURL prefix mismatch for %s: %s", tc.name, publicURL)
			}
			if !strings.Contains(publicURL, "alt=media") {
				t.Fatalf("publicURL should include alt=media for renderable object endpoint: %s", publicURL)
			}
			if !strings.Contains(publicURL, strings.ReplaceAll(tc.key, "/", "%2F")) {
				t.Fatalf("publicURL should escape object key path: %s", publicURL)
			}
			if got := contentTypeForKey(tc.key); got != tc.wantCT {
				t.Fatalf("contentTypeForKey(%q): want=%q got=%q", tc.key, tc.wantCT, got)
			}
		})
	}
}
