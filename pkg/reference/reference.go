// Package reference stores named, interface-scoped image/text templates
// used by verifications. A reference carries the cropped region it was
// extracted from, plus (for text) OCR text and an optional match regex.
package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// Area is the crop rectangle a reference was extracted from, expressed as
// fractional coordinates of the source frame.
type Area struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Type distinguishes image references from text references.
type Type string

const (
	TypeImage Type = "image"
	TypeText  Type = "text"
)

// Reference is the persisted row, unique by (team, interface_name, name).
type Reference struct {
	Team          string    `json:"team"`
	InterfaceName string    `json:"interface_name"`
	Name          string    `json:"name"`
	Type          Type      `json:"type"`
	Area          Area      `json:"area"`
	ImageURL      string    `json:"image_url,omitempty"`
	Text          string    `json:"text,omitempty"`
	Language      string    `json:"language,omitempty"`
	Modified      bool      `json:"modified"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ArtifactStore persists reference image blobs and returns a retrievable
// URL. The filesystem implementation (store_fs.go) is used for tests and
// single-host deployments; the S3-compatible implementation (s3store.go)
// backs production deployments.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) (url string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// ImageFetcher retrieves the source frame a saveImage call crops against.
// No type in this module implements it; with a nil fetcher, SaveImage
// returns an error.
type ImageFetcher interface {
	FetchImage(ctx context.Context, sourceURL string) ([]byte, error)
}

// Metadata is the row store behind the Reference Store — Postgres in
// production (pkg/navtree's database), an in-memory map in tests.
type Metadata interface {
	Get(team, interfaceName, name string) (*Reference, error)
	List(team, interfaceName string) ([]Reference, error)
	Save(ref Reference) error
	Delete(team, interfaceName, name string) error
}

// Store is the Reference Store (C1).
type Store struct {
	meta     Metadata
	artifact ArtifactStore
	fetcher  ImageFetcher
}

// New creates a Reference Store over the given metadata and artifact
// backends. fetcher may be nil if saveImage is always called with
// already-cropped bytes supplied out of band (tests).
func New(meta Metadata, artifact ArtifactStore, fetcher ImageFetcher) *Store {
	return &Store{meta: meta, artifact: artifact, fetcher: fetcher}
}

// SaveText upserts a text reference. Changing an existing reference's text
// or area sets the modified flag so the editor knows to re-upload.
func (s *Store) SaveText(team, interfaceName, name string, area Area, text, language string) (*Reference, error) {
	existing, err := s.meta.Get(team, interfaceName, name)
	if err != nil {
		return nil, err
	}
	ref := Reference{
		Team: team, InterfaceName: interfaceName, Name: name,
		Type: TypeText, Area: area, Text: text, Language: language,
		UpdatedAt: time.Now(),
	}
	ref.Modified = existing != nil && (existing.Text != text || existing.Area != area)
	if err := s.meta.Save(ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// SaveImage extracts the region described by area from the frame at
// sourceImageURL, stores the crop as a new artifact, and upserts the
// reference row.
func (s *Store) SaveImage(ctx context.Context, team, interfaceName, name string, area Area, sourceImageURL string) (*Reference, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("reference: no image fetcher configured")
	}
	source, err := s.fetcher.FetchImage(ctx, sourceImageURL)
	if err != nil {
		return nil, fmt.Errorf("reference: fetching source image: %w", err)
	}
	cropped, err := crop(source, area)
	if err != nil {
		return nil, fmt.Errorf("reference: cropping: %w", err)
	}
	key := artifactKey(team, interfaceName, name)
	url, err := s.artifact.Put(ctx, key, cropped)
	if err != nil {
		return nil, fmt.Errorf("reference: storing artifact: %w", err)
	}

	existing, err := s.meta.Get(team, interfaceName, name)
	if err != nil {
		return nil, err
	}
	ref := Reference{
		Team: team, InterfaceName: interfaceName, Name: name,
		Type: TypeImage, Area: area, ImageURL: url,
		UpdatedAt: time.Now(),
	}
	ref.Modified = existing != nil && (existing.Area != area || existing.ImageURL != url)
	if err := s.meta.Save(ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// Get looks up a single reference. Returns util.ErrDeviceNotFound when no
// reference by that name exists for the interface.
func (s *Store) Get(team, interfaceName, name string) (*Reference, error) {
	ref, err := s.meta.Get(team, interfaceName, name)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, util.ErrDeviceNotFound
	}
	return ref, nil
}

// List returns every reference registered for an interface.
func (s *Store) List(team, interfaceName string) ([]Reference, error) {
	return s.meta.List(team, interfaceName)
}

// Delete removes a reference's metadata row. A stored image artifact, if
// any, is left in the ArtifactStore.
func (s *Store) Delete(ctx context.Context, team, interfaceName, name string) error {
	ref, err := s.meta.Get(team, interfaceName, name)
	if err != nil {
		return err
	}
	if ref == nil {
		return util.ErrDeviceNotFound
	}
	if err := s.meta.Delete(team, interfaceName, name); err != nil {
		return err
	}
	return nil
}

func artifactKey(team, interfaceName, name string) string {
	return fmt.Sprintf("%s/%s/%s.png", team, interfaceName, name)
}
