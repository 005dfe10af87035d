package store

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Archive is the file format of an exported snapshot.
type Archive struct {
	Version    uint64    `json:"version"`
	Epoch      string    `json:"epoch,omitempty"`
	ExportedAt time.Time `json:"exported_at"`
	Ready      Ready     `json:"ready"`
}

// WriteArchive encodes snap to w.
func WriteArchive(w io.Writer, snap *Snapshot) error {
	a := Archive{Version: snap.Version, Epoch: snap.Epoch, ExportedAt: time.Now().UTC(), Ready: snap.Export()}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("encoding archive: %w", err)
	}
	return nil
}

// ReadArchive decodes an archive written by WriteArchive.
func ReadArchive(r io.Reader) (Archive, error) {
	var a Archive
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return Archive{}, fmt.Errorf("decoding archive: %w", err)
	}
	return a, nil
}
