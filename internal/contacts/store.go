// Package contacts is a small file-backed address book used by providers
// that have no contact directory of their own.
package contacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const fileVersion = 1

// Sentinel errors for contact store operations.
var (
	ErrExists       = errors.New("contact with this number already exists")
	ErrInvalidPhone = errors.New("phone number is required")
)

// Contact is one address book entry.
type Contact struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type contactsFile struct {
	Version  int       `json:"version"`
	Contacts []Contact `json:"contacts"`
}

// FileStore keeps contacts in a single JSON file. Writes replace the file
// atomically. It is safe for concurrent use within one process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first Add.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path)}
}

// Find returns every contact whose number contains phone.
func (s *FileStore) Find(ctx context.Context, phone string) ([]Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrInvalidPhone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	var matches []Contact
	for _, c := range all {
		if strings.Contains(c.Number, phone) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// Get returns the contacts with the given ids, in the order requested.
// Unknown ids are reported in missing.
func (s *FileStore) Get(ctx context.Context, ids []string) (found []Contact, missing []string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		i := slices.IndexFunc(all, func(c Contact) bool { return c.ID == id })
		if i < 0 {
			missing = append(missing, id)
			continue
		}
		found = append(found, all[i])
	}
	return found, missing, nil
}

// List returns all contacts.
func (s *FileStore) List(ctx context.Context) ([]Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Add stores a new contact. Numbers must be unique.
func (s *FileStore) Add(ctx context.Context, phone, name string) (Contact, error) {
	if err := ctx.Err(); err != nil {
		return Contact{}, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Contact{}, ErrInvalidPhone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return Contact{}, err
	}
	if slices.ContainsFunc(all, func(c Contact) bool { return c.Number == phone }) {
		return Contact{}, fmt.Errorf("%w: %s", ErrExists, phone)
	}

	c := Contact{
		ID:        uuid.NewString(),
		Number:    phone,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	all = append(all, c)
	if err := s.saveLocked(all); err != nil {
		return Contact{}, err
	}
	return c, nil
}

func (s *FileStore) loadLocked() ([]Contact, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read contacts %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var f contactsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode contacts %s: %w", s.path, err)
	}
	return f.Contacts, nil
}

func (s *FileStore) saveLocked(all []Contact) error {
	data, err := json.MarshalIndent(contactsFile{Version: fileVersion, Contacts: all}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create contacts dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp for %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", s.path, err)
	}
	return nil
}
