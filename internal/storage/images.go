// Package storage legt hochgeladene Fotos normalisiert auf der Platte ab.
package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reunite-go/internal/core/models"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

// Kind bezeichnet das Unterverzeichnis eines Fotos
type Kind string

const (
	KindMissing Kind = "missing"
	KindFound   Kind = "found"
)

// MaxDimension begrenzt die längere Bildkante nach der Normalisierung
const MaxDimension = 1600

// Image ist ein dekodiertes und als JPEG neu kodiertes Foto
type Image struct {
	Data []byte
	Hash string // SHA-256 der normalisierten Bytes, hex
}

// StoredFile beschreibt eine Datei im Bildverzeichnis
type StoredFile struct {
	Path    string // relativ zum Bildverzeichnis, mit "/" getrennt
	ModTime time.Time
}

// ImageStore verwaltet das Bildverzeichnis
type ImageStore struct {
	root string
}

// NewImageStore erstellt das Bildverzeichnis mit seinen Unterordnern
func NewImageStore(root string) (*ImageStore, error) {
	for _, kind := range []Kind{KindMissing, KindFound} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0755); err != nil {
			return nil, fmt.Errorf("failed to create image directory %s: %w", kind, err)
		}
	}
	return &ImageStore{root: root}, nil
}

// Root gibt das Bildverzeichnis zurück
func (s *ImageStore) Root() string {
	return s.root
}

// Normalize dekodiert das Foto, richtet es nach EXIF aus und kodiert es als JPEG
func Normalize(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, models.ErrInvalidImage
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > MaxDimension || bounds.Dy() > MaxDimension {
		img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Image{Data: buf.Bytes(), Hash: hex.EncodeToString(sum[:])}, nil
}

// Save schreibt das Foto als <kind>/<id>.jpg und gibt den relativen Pfad zurück
func (s *ImageStore) Save(kind Kind, id string, img *Image) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid image id %q", id)
	}
	rel := string(kind) + "/" + id + ".jpg"

	full := filepath.Join(s.root, filepath.FromSlash(rel))
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, img.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return rel, nil
}

// Resolve wandelt einen relativen Pfad in einen absoluten um, ohne das Bildverzeichnis zu verlassen
func (s *ImageStore) Resolve(rel string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(rel))
	if clean == string(filepath.Separator) {
		return "", models.ErrNotFound
	}
	return filepath.Join(s.root, clean), nil
}

// Remove löscht die angegebenen Dateien. Fehlende Dateien gelten als gelöscht.
func (s *ImageStore) Remove(paths ...string) int {
	removed := 0
	for _, rel := range paths {
		if rel == "" {
			continue
		}
		full, err := s.Resolve(rel)
		if err != nil {
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Failed to remove image %s: %v", rel, err)
			continue
		}
		removed++
	}
	return removed
}

// List liefert alle Dateien eines Unterordners
func (s *ImageStore) List(kind Kind) ([]StoredFile, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, string(kind)))
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory %s: %w", kind, err)
	}

	files := make([]StoredFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, StoredFile{
			Path:    string(kind) + "/" + entry.Name(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}
