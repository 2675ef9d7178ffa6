// Package store is the content-addressed local picture store.
//
// Files are named by the SHA-256 of their bytes. Writes go to a staging
// directory first and are linked into place only once fully written and
// synced, so a final hash-named path never holds a partial file. A hash's
// final file, once present, is never rewritten; this makes concurrent
// commits from several ingesters safe without further locking.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const stagingDirName = ".staging"

// Store is a directory of hash-named files.
type Store struct {
	dir     string
	staging string
}

// Open prepares the store at dir, creating it if needed, and removes any
// staging leftovers from a previous run that stopped before committing.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory %s: %w", dir, err)
	}

	s := &Store{dir: abs, staging: filepath.Join(abs, stagingDirName)}
	if err := os.MkdirAll(s.staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := s.sweep(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the absolute store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the final location for a hash. The extension is lower-cased
// and kept so downstream tooling can infer the format.
func (s *Store) Path(hash, ext string) string {
	return filepath.Join(s.dir, hash+strings.ToLower(ext))
}

// Exists reports whether the hash is already committed.
func (s *Store) Exists(hash, ext string) bool {
	_, err := os.Stat(s.Path(hash, ext))
	return err == nil
}

// Staged is a fully written, not yet committed file.
type Staged struct {
	store *Store
	tmp   string
	ext   string
	done  bool

	// Hash is the hex SHA-256 of the staged bytes.
	Hash string
	// Size is the number of staged bytes.
	Size int64
}

// Stage copies r into a staging file, hashing the bytes as they are written.
// The caller must either Commit or Discard the result.
func (s *Store) Stage(r io.Reader, ext string) (*Staged, error) {
	tmp := filepath.Join(s.staging, uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to write staging file: %w", err)
	}

	return &Staged{
		store: s,
		tmp:   tmp,
		ext:   ext,
		Hash:  hex.EncodeToString(h.Sum(nil)),
		Size:  n,
	}, nil
}

// StageFile stages the contents of the file at path.
func (s *Store) StageFile(path string) (*Staged, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return s.Stage(f, filepath.Ext(path))
}

// StageBytes stages an in-memory buffer.
func (s *Store) StageBytes(data []byte, ext string) (*Staged, error) {
	return s.Stage(bytes.NewReader(data), ext)
}

// Commit links the staged file to its hash-named path and returns it.
// If that path already exists the staged copy is dropped instead, since the
// existing file holds identical bytes. Linking fails rather than replacing,
// so of several concurrent commits for one hash only the first lands.
func (st *Staged) Commit() (string, error) {
	if st.done {
		return "", fmt.Errorf("staged file already committed or discarded")
	}
	st.done = true
	defer os.Remove(st.tmp)

	final := st.store.Path(st.Hash, st.ext)
	if err := os.Link(st.tmp, final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return final, nil
		}
		return "", fmt.Errorf("failed to commit %s: %w", final, err)
	}
	syncDir(st.store.dir)
	return final, nil
}

// Discard removes the staged file. Safe to call after Commit.
func (st *Staged) Discard() {
	if st.done {
		return
	}
	st.done = true
	_ = os.Remove(st.tmp)
}

// sweep deletes everything in the staging directory.
func (s *Store) sweep() error {
	entries, err := os.ReadDir(s.staging)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.staging, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale staging file %s: %w", e.Name(), err)
		}
	}
	return nil
}

// syncDir flushes a new directory entry to stable storage where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// HashFile returns the hex SHA-256 and size of the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
