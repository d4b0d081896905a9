package collaborators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/neurobridge-backend/internal/platform/gcp"
)

// Deployer is the deploy-stage collaborator: it uploads a site's compiled
// artifact tree (meetings.db, any extraction JSON, and the static site
// shell) to the configured object store. Grounded on
// hookspecs.deploy_municipality/upload_static_file.
type Deployer interface {
	Deploy(ctx context.Context, subdomain, storageRoot string) error
}

// DeployObserver is the SUPPLEMENTED FEATURES post_deploy/post_create
// hookpoint: an optional side effect run after a successful deploy, without
// resurrecting a full hook-discovery system.
type DeployObserver interface {
	AfterDeploy(ctx context.Context, subdomain string) error
}

// GCSDeployer uploads a site's artifact tree to a single GCS bucket via
// gcp.BucketService, keyed subdomain/<relative path>.
type GCSDeployer struct {
	Bucket    gcp.BucketService
	Observers []DeployObserver
}

func (g *GCSDeployer) Deploy(ctx context.Context, subdomain, storageRoot string) error {
	siteRoot := filepath.Join(storageRoot, subdomain)
	if _, err := os.Stat(siteRoot); err != nil {
		return fmt.Errorf("file-not-found:other: %s: %w", siteRoot, err)
	}

	uploaded := 0
	err := filepath.WalkDir(siteRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isDeployableArtifact(path) {
			return nil
		}
		rel, err := filepath.Rel(storageRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("file-not-found:other: %s: %w", path, err)
		}
		defer f.Close()

		if err := g.Bucket.UploadFile(ctx, key, f); err != nil {
			return fmt.Errorf("deployer: upload %s: %w", key, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}
	if uploaded == 0 {
		return fmt.Errorf("file-not-found:other: no deployable artifacts under %s", siteRoot)
	}

	for _, obs := range g.Observers {
		if obs == nil {
			continue
		}
		if err := obs.AfterDeploy(ctx, subdomain); err != nil {
			return fmt.Errorf("deployer: post-deploy observer: %w", err)
		}
	}
	return nil
}

// isDeployableArtifact excludes source PDFs and raw OCR text from the
// uploaded tree; only the compiled database, extraction JSON, and any
// rendered static pages are deploy artifacts.
func isDeployableArtifact(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".db", ".json", ".html":
		return true
	default:
		return false
	}
}
