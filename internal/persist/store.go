// Package persist stores the session record on durable storage and
// rehydrates it at startup.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// RecordVersion is the on-disk format version.
const RecordVersion = 1

// DefaultNamespace names the session record when none is configured.
const DefaultNamespace = "auth-storage"

// ErrUnsupportedVersion is returned for records written by an unknown format.
var ErrUnsupportedVersion = errors.New("unsupported session record version")

// Record is the durable envelope around a session.
type Record struct {
	Version int            `json:"version"`
	State   schema.Session `json:"state"`
}

// Adapter loads and saves the session record.
type Adapter interface {
	Load() (schema.Session, bool, error)
	Save(session schema.Session) error
}

// FileStore persists the session record as JSON under a state directory.
type FileStore struct {
	dir       string
	namespace string
	cipher    *Cipher
	log       pslog.Logger
}

// NewFileStore constructs a file adapter at dir.
func NewFileStore(dir, namespace string) (*FileStore, error) {
	return NewFileStoreWithLogger(dir, namespace, nil)
}

// NewFileStoreWithLogger constructs a file adapter with logging.
func NewFileStoreWithLogger(dir, namespace string, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	namespace = sanitize(strings.TrimSpace(namespace))
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger != nil {
		logger = logger.With("state_dir", dir, "namespace", namespace)
	}
	return &FileStore{dir: dir, namespace: namespace, log: logger}, nil
}

// NewEncryptedFileStore constructs a file adapter that seals the record with cipher.
func NewEncryptedFileStore(dir, namespace string, cipher *Cipher, logger pslog.Logger) (*FileStore, error) {
	if cipher == nil {
		return nil, errors.New("cipher is required")
	}
	store, err := NewFileStoreWithLogger(dir, namespace, logger)
	if err != nil {
		return nil, err
	}
	store.cipher = cipher
	return store, nil
}

// Path returns the record location.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, s.namespace+".json")
}

// Encrypted reports whether the record is sealed at rest.
func (s *FileStore) Encrypted() bool {
	return s.cipher != nil
}

// Load reads the session record from disk.
func (s *FileStore) Load() (schema.Session, bool, error) {
	path := s.Path()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss")
			}
			return schema.Session{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.Session{}, false, err
	}
	defer func() { _ = file.Close() }()
	var reader io.Reader = file
	if s.cipher != nil {
		plain, err := s.cipher.Open(file)
		if err != nil {
			if s.log != nil {
				s.log.Warn("state load failed", "err", err)
			}
			return schema.Session{}, false, err
		}
		defer func() { _ = plain.Close() }()
		reader = plain
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.Session{}, false, err
	}
	session, err := decodeRecord(data)
	if err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return schema.Session{}, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "authenticated", session.Authenticated())
	}
	return session, true, nil
}

// Save writes the full session record atomically.
func (s *FileStore) Save(session schema.Session) error {
	data, err := encodeRecord(session)
	if err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "err", err)
		}
		return err
	}
	if err := s.writeAtomic(data); err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "authenticated", session.Authenticated())
	}
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	path := s.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	var dst io.WriteCloser = nopWriteCloser{tmp}
	if s.cipher != nil {
		dst, err = s.cipher.Seal(tmp)
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if _, err := io.Copy(dst, bytes.NewReader(data)); err != nil {
		_ = dst.Close()
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// MemoryStore keeps the session record in memory.
type MemoryStore struct {
	mu      sync.Mutex
	session schema.Session
	present bool
	saves   int
	err     error
}

// NewMemoryStore returns an empty in-memory adapter.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith returns an in-memory adapter seeded with session.
func NewMemoryStoreWith(session schema.Session) *MemoryStore {
	return &MemoryStore{session: session, present: true}
}

// Load returns the stored session.
func (m *MemoryStore) Load() (schema.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return schema.Session{}, false, m.err
	}
	return m.session, m.present, nil
}

// Save replaces the stored session.
func (m *MemoryStore) Save(session schema.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.session = session
	m.present = true
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetError makes subsequent Load and Save calls fail with err.
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Rehydrate reads the persisted session once at startup. Absent or
// unreadable records yield an empty session.
func Rehydrate(adapter Adapter, logger pslog.Logger) schema.Session {
	if adapter == nil {
		return schema.Session{}
	}
	session, ok, err := adapter.Load()
	if err != nil {
		if logger != nil {
			logger.Warn("state rehydrate failed; starting signed out", "err", err)
		}
		return schema.Session{}
	}
	if !ok {
		return schema.Session{}
	}
	if logger != nil {
		logger.Info("state rehydrate ok", "authenticated", session.Authenticated(), "thread", session.ThreadID != "")
	}
	return session
}

func encodeRecord(session schema.Session) ([]byte, error) {
	return json.MarshalIndent(Record{Version: RecordVersion, State: session}, "", "  ")
}

func decodeRecord(data []byte) (schema.Session, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return schema.Session{}, err
	}
	if record.Version != RecordVersion {
		return schema.Session{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, record.Version)
	}
	return record.State, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
