package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/predem/internal/ports"
)

const identityFileName = "install.json"

// identity is the persisted install identity.
type identity struct {
	InstallID string    `json:"install_id"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityFile implements ports.IdentifierStore using a JSON file.
// The identifier is created once and read-only afterwards.
type IdentityFile struct {
	dir string

	mu     sync.Mutex
	cached string
}

var _ ports.IdentifierStore = (*IdentityFile)(nil)

// NewIdentityFile creates an IdentityFile for the given directory.
func NewIdentityFile(dir string) *IdentityFile {
	return &IdentityFile{dir: dir}
}

// GetOrCreateInstallID returns the stored install id, creating it on first use.
func (f *IdentityFile) GetOrCreateInstallID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != "" {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.Path())
	switch {
	case err == nil:
		var id identity
		if jerr := json.Unmarshal(data, &id); jerr == nil {
			if _, perr := uuid.Parse(id.InstallID); perr == nil {
				f.cached = id.InstallID
				return f.cached, nil
			}
		}
		// Unreadable identity: fall through and issue a new one.
	case !os.IsNotExist(err):
		return "", fmt.Errorf("read install id: %w", err)
	}

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return "", fmt.Errorf("create identity directory: %w", err)
	}

	id := identity{InstallID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	data, err = json.MarshalIndent(id, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(f.Path(), data, 0o600); err != nil {
		return "", fmt.Errorf("persist install id: %w", err)
	}

	f.cached = id.InstallID
	return f.cached, nil
}

// Path returns the full path to the identity file.
func (f *IdentityFile) Path() string {
	return filepath.Join(f.dir, identityFileName)
}
