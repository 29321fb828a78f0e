package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UploadRecord is a firmware file received from the browser and saved to disk
// so it can be loaded like a locally selected file.
type UploadRecord struct {
	ID       string
	Path     string
	Filename string
}

// UploadStore keeps uploaded files under one directory.
type UploadStore struct {
	dir string
}

// NewUploadStore stores files in dir, creating it when needed.
func NewUploadStore(dir string) *UploadStore {
	return &UploadStore{dir: dir}
}

// Put writes raw to a new file that keeps the extension of filename.
func (s *UploadStore) Put(raw []byte, filename string) (*UploadRecord, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	name := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(name))
	path := filepath.Join(s.dir, id+ext)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return &UploadRecord{ID: id, Path: path, Filename: name}, nil
}

func newID() (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
