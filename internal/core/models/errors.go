package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFaceDetected: im Bild wurde kein verwertbares Gesicht gefunden
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrNotFound: eine referenzierte Meldung existiert nicht
	ErrNotFound = errors.New("report not found")
	// ErrAlreadyMatched: die Vermisstenmeldung ist nicht mehr offen
	ErrAlreadyMatched = errors.New("report already matched")
	// ErrTimeout: Extraktion oder Abgleich hat das Zeitlimit überschritten
	ErrTimeout = errors.New("comparison timed out")
	// ErrInvalidImage: die Bilddaten konnten nicht dekodiert werden
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidInput: Pflichtfelder fehlen oder sind ungültig
	ErrInvalidInput = errors.New("invalid input")
)

// StorageError kapselt Fehler der Persistenzschicht
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError erzeugt einen StorageError, nil bleibt nil
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ErrorKind liefert eine stabile Kurzbezeichnung für Logs und Metriken
func ErrorKind(err error) string {
	var storageErr *StorageError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAlreadyMatched):
		return "already_matched"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &storageErr):
		return "storage"
	default:
		return "internal"
	}
}
