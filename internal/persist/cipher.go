package persist

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const descriptorPrefix = "session:"

// Cipher seals session records with a key from a kryptograf key store.
type Cipher struct {
	material keymgmt.Material
	root     keymgmt.RootKey
}

// NewCipher loads or creates the key store at path and ensures a data key
// for namespace.
func NewCipher(path, namespace string, logger pslog.Logger) (*Cipher, error) {
	if path == "" {
		return nil, errors.New("key store path is required")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		if logger != nil {
			logger.Warn("state key store ensure failed", "err", err)
		}
		return nil, err
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		if logger != nil {
			logger.Warn("state key store ensure failed", "err", err)
		}
		return nil, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		if logger != nil {
			logger.Warn("state key store ensure failed", "err", err)
		}
		return nil, err
	}
	descName := descriptorPrefix + namespace
	material, err := store.EnsureDescriptor(descName, root, []byte(descName))
	if err != nil {
		if logger != nil {
			logger.Warn("state key material ensure failed", "err", err)
		}
		return nil, err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("state key material commit failed", "err", err)
		}
		return nil, err
	}
	if logger != nil {
		logger.Debug("state key store ensure ok", "path", path)
	}
	return &Cipher{material: material, root: root}, nil
}

// Seal wraps w with an encrypting writer. Close flushes the final chunk.
func (c *Cipher) Seal(w io.Writer) (io.WriteCloser, error) {
	return kryptograf.New(c.root).EncryptWriter(w, c.material)
}

// Open wraps r with a decrypting reader.
func (c *Cipher) Open(r io.Reader) (io.ReadCloser, error) {
	return kryptograf.New(c.root).DecryptReader(r, c.material)
}
