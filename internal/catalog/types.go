package catalog

import (
	"fmt"
	"time"
)

// Kind tags a registered folder with the content it holds.
type Kind string

const (
	// KindArticle folders hold text articles, watched non-recursively.
	KindArticle Kind = "article"
	// KindPicture folders hold pictures plus per-directory manifests, watched recursively.
	KindPicture Kind = "picture"
)

// ParseKind converts a user supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindArticle, KindPicture:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown folder kind %q (want %q or %q)", s, KindArticle, KindPicture)
	}
}

// FolderRegistration is a monitored directory. Immutable once registered.
type FolderRegistration struct {
	Path                string
	Kind                Kind
	DestinationLabel    string
	RequireConfirmation bool
	CreatedAt           time.Time
}

// ArticleRecord tracks one published article source file.
// (SourcePath, DestinationLabel) is the natural key.
type ArticleRecord struct {
	SourcePath       string
	DestinationLabel string
	LastSyncTime     time.Time
}

// Orientation is derived from the pixel aspect of a picture.
type Orientation string

const (
	OrientationUnknown   Orientation = ""
	OrientationSquare    Orientation = "Square"
	OrientationLandscape Orientation = "Landscape"
	OrientationPortrait  Orientation = "Portrait"
)

// OrientationOf classifies width x height. Non-positive sizes are unknown.
func OrientationOf(width, height int) Orientation {
	switch {
	case width <= 0 || height <= 0:
		return OrientationUnknown
	case width == height:
		return OrientationSquare
	case width > height:
		return OrientationLandscape
	default:
		return OrientationPortrait
	}
}

// Identity is the content identity of a stored picture. It is either Single
// (stored verbatim) or Migrated (recompressed, so the stored bytes hash
// differently from the source bytes). Lookups must accept every hash in Hashes.
type Identity interface {
	// Current is the hash of the bytes in the local store.
	Current() string
	// Hashes lists every hash that resolves to this picture.
	Hashes() []string

	isIdentity()
}

// Single identifies a picture stored byte-for-byte.
type Single struct {
	Hash string
}

func (s Single) Current() string  { return s.Hash }
func (s Single) Hashes() []string { return []string{s.Hash} }
func (Single) isIdentity()        {}

// Migrated identifies a picture whose source bytes (Old) were recompressed
// into the stored bytes (New).
type Migrated struct {
	Old string
	New string
}

func (m Migrated) Current() string  { return m.New }
func (m Migrated) Hashes() []string { return []string{m.New, m.Old} }
func (Migrated) isIdentity()        {}

// identityColumns maps an Identity onto the content_hash/previous_hash columns.
func identityColumns(id Identity) (current string, previous *string) {
	switch v := id.(type) {
	case Single:
		return v.Hash, nil
	case Migrated:
		old := v.Old
		return v.New, &old
	default:
		panic(fmt.Sprintf("catalog: unhandled identity %T", id))
	}
}

func identityFromColumns(current string, previous *string) Identity {
	if previous == nil || *previous == "" {
		return Single{Hash: current}
	}
	return Migrated{Old: *previous, New: current}
}

// PictureRecord is a picture in the content-addressed store.
type PictureRecord struct {
	Identity       Identity
	StoredPath     string
	IsPhotography  bool
	Selected       bool
	Title          string
	ArticleLink    *string
	ShootingParams string
	ShootingDate   string
	Camera         string
	Orientation    Orientation
	CreatedAt      time.Time
}

// Validate checks that the record can be persisted.
func (p *PictureRecord) Validate() error {
	if p.Identity == nil {
		return fmt.Errorf("identity is required")
	}
	if p.Identity.Current() == "" {
		return fmt.Errorf("content hash is required")
	}
	if m, ok := p.Identity.(Migrated); ok && m.Old == "" {
		return fmt.Errorf("previous hash is required for a migrated identity")
	}
	if p.StoredPath == "" {
		return fmt.Errorf("stored path is required")
	}
	return nil
}

// Counts summarises catalog contents.
type Counts struct {
	Folders  int `json:"folders" yaml:"folders"`
	Articles int `json:"articles" yaml:"articles"`
	Pictures int `json:"pictures" yaml:"pictures"`
}
