package recording

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// recordingFile groups every recording captured for one request path.
type recordingFile struct {
	Path       string       `yaml:"path"`
	Recordings []*Recording `yaml:"recordings"`
}

// Persister reads and writes recordings as YAML files, one file per
// request path. File names are derived from a hash of the path so that
// arbitrary URL paths map to safe file names.
type Persister struct {
	dir string
}

// NewPersister creates a persister rooted at dir. The directory is
// created lazily on first save.
func NewPersister(dir string) *Persister {
	return &Persister{dir: dir}
}

// Dir returns the recording directory.
func (p *Persister) Dir() string {
	return p.dir
}

// FileFor returns the file that backs recordings for the given request
// path.
func (p *Persister) FileFor(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:])[:12]+".yaml")
}

// Load reads the recordings stored for a request path. A missing file is
// not an error and yields no recordings.
func (p *Persister) Load(path string) ([]*Recording, error) {
	data, err := os.ReadFile(p.FileFor(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recording file: %w", err)
	}

	var file recordingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse recording file %s: %w", p.FileFor(path), err)
	}
	return file.Recordings, nil
}

// Save writes the recordings for a request path, replacing any previous
// contents. The write goes through a temporary file and a rename so a
// crash never leaves a half-written recording file behind.
func (p *Persister) Save(path string, recordings []*Recording) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create recording directory %s: %w", p.dir, err)
	}

	data, err := yaml.Marshal(&recordingFile{Path: path, Recordings: recordings})
	if err != nil {
		return fmt.Errorf("failed to marshal recordings: %w", err)
	}

	target := p.FileFor(path)
	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// LoadAll reads every recording file under the directory and returns the
// recordings keyed by request path. A missing directory yields an empty
// map.
func (p *Persister) LoadAll() (map[string][]*Recording, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(p.dir, "**", "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan recording directory %s: %w", p.dir, err)
	}

	out := make(map[string][]*Recording, len(matches))
	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			return nil, fmt.Errorf("failed to read recording file %s: %w", match, err)
		}
		var file recordingFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse recording file %s: %w", match, err)
		}
		out[file.Path] = append(out[file.Path], file.Recordings...)
	}
	return out, nil
}
