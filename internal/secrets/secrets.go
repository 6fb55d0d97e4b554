// Package secrets loads credentials from files in a configured directory at
// startup. File names come from configuration; values never appear in logs.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Store resolves secret file names against a base directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads and trims the secret in the named file. An empty name yields an
// empty value without error.
func (s *Store) Load(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	path := name
	if !filepath.IsAbs(name) {
		path = filepath.Join(s.dir, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		log.Warn().Str("file", path).Msg("Secret file is empty")
	}
	return value, nil
}

// LoadOptional reads a secret, logging instead of failing when the file is
// absent. Used for credentials whose features degrade gracefully.
func (s *Store) LoadOptional(name string) string {
	value, err := s.Load(name)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("file", name).Msg("Secret file not found")
		} else {
			log.Error().Err(err).Str("file", name).Msg("Failed to read secret file")
		}
		return ""
	}
	return value
}
