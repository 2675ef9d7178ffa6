// Package registry manages the folders sitesync monitors.
//
// Folders are append-only: once registered, a folder keeps its kind,
// destination label and confirmation policy for as long as it exists in the
// catalog. Paths are stored in canonical form (absolute, symlinks resolved)
// so the same directory cannot be registered twice under different names.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

// Store is the slice of the catalog the registry needs.
type Store interface {
	RegisterFolder(ctx context.Context, f catalog.FolderRegistration) error
	ListFolders(ctx context.Context, kind catalog.Kind) ([]catalog.FolderRegistration, error)
}

// Registry is the durable folder list.
type Registry struct {
	store Store
	now   func() time.Time
}

// New creates a registry over store.
func New(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// CanonicalPath returns path made absolute with symlinks resolved.
func CanonicalPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return filepath.Clean(resolved), nil
}

// ListFolders returns the registered folders of kind, or all folders when
// kind is empty.
func (r *Registry) ListFolders(ctx context.Context, kind catalog.Kind) ([]catalog.FolderRegistration, error) {
	return r.store.ListFolders(ctx, kind)
}

// Register adds a folder. The path must name an existing directory.
// Registering the same directory with the same kind again fails with an
// error matching syncerr.ErrDuplicateFolder.
func (r *Registry) Register(ctx context.Context, f catalog.FolderRegistration) (catalog.FolderRegistration, error) {
	if _, err := catalog.ParseKind(string(f.Kind)); err != nil {
		return catalog.FolderRegistration{}, err
	}

	path, err := CanonicalPath(f.Path)
	if err != nil {
		return catalog.FolderRegistration{}, syncerr.Filesystem(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return catalog.FolderRegistration{}, syncerr.Filesystem(err)
	}
	if !info.IsDir() {
		return catalog.FolderRegistration{}, fmt.Errorf("%s is not a directory", path)
	}

	f.Path = path
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now()
	}
	if err := r.store.RegisterFolder(ctx, f); err != nil {
		return catalog.FolderRegistration{}, err
	}
	return f, nil
}

// importFile is the on-disk shape of a folder seed file:
//
//	[[folder]]
//	path = "~/notes"
//	kind = "article"
//	destination = "blog"
//	require_confirmation = true
type importFile struct {
	Folders []importEntry `toml:"folder"`
}

type importEntry struct {
	Path                string `toml:"path"`
	Kind                string `toml:"kind"`
	Destination         string `toml:"destination"`
	RequireConfirmation bool   `toml:"require_confirmation"`
}

// ImportResult summarizes an ImportFile run.
type ImportResult struct {
	Registered []catalog.FolderRegistration
	Duplicates []string
}

// ImportFile registers every folder listed in a TOML seed file. Folders that
// are already registered are reported, not treated as errors. The first
// other failure stops the import.
func (r *Registry) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	var file importFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	res := &ImportResult{}
	for i, e := range file.Folders {
		kind, err := catalog.ParseKind(e.Kind)
		if err != nil {
			return res, fmt.Errorf("folder %d: %w", i+1, err)
		}
		f, err := r.Register(ctx, catalog.FolderRegistration{
			Path:                ExpandHome(e.Path),
			Kind:                kind,
			DestinationLabel:    e.Destination,
			RequireConfirmation: e.RequireConfirmation,
		})
		if errors.Is(err, syncerr.ErrDuplicateFolder) {
			res.Duplicates = append(res.Duplicates, e.Path)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("folder %d (%s): %w", i+1, e.Path, err)
		}
		res.Registered = append(res.Registered, f)
	}
	return res, nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
