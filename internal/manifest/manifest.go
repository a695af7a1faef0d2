package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"workqueue/internal/fileutil"
	"workqueue/internal/services"
)

// FileName is the manifest file kept at the root of every storage directory.
const FileName = "manifest.json"

// Series lists the instance files of one series subdirectory.
type Series struct {
	UID       string   `json:"uid"`
	Instances []string `json:"instances"`
}

// Manifest is the authoritative index of a storage directory.
type Manifest struct {
	StorageKey string    `json:"storage_key"`
	Series     []Series  `json:"series"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InstanceCount totals the instances across all series.
func (m *Manifest) InstanceCount() int {
	if m == nil {
		return 0
	}
	total := 0
	for _, s := range m.Series {
		total += len(s.Instances)
	}
	return total
}

// Find returns the series with uid.
func (m *Manifest) Find(uid string) (Series, bool) {
	if m == nil {
		return Series{}, false
	}
	for _, s := range m.Series {
		if s.UID == uid {
			return s, true
		}
	}
	return Series{}, false
}

// Load reads the manifest of dir.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "manifest", "load", "no manifest in "+dir, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, services.Wrap(services.ErrIntegrity, "manifest", "load", "corrupt manifest in "+dir, err)
	}
	return &m, nil
}

// Save writes m into dir, replacing any previous manifest atomically.
func Save(dir string, m *Manifest) error {
	if m == nil {
		return errors.New("manifest is nil")
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, FileName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// Scan rebuilds a manifest from the series subdirectories of dir, keeping
// files whose extension matches ext.
func Scan(dir, storageKey, ext string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan storage %s: %w", dir, err)
	}
	m := &Manifest{StorageKey: storageKey, UpdatedAt: time.Now().UTC()}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("scan series %s: %w", entry.Name(), err)
		}
		series := Series{UID: entry.Name()}
		for _, f := range files {
			if f.Type().IsRegular() && matchesExt(f.Name(), ext) {
				series.Instances = append(series.Instances, f.Name())
			}
		}
		sort.Strings(series.Instances)
		m.Series = append(m.Series, series)
	}
	sort.Slice(m.Series, func(i, j int) bool { return m.Series[i].UID < m.Series[j].UID })
	return m, nil
}

// CountFiles counts instance files below dir regardless of the manifest.
func CountFiles(dir, ext string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && matchesExt(d.Name(), ext) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count files in %s: %w", dir, err)
	}
	return count, nil
}

func matchesExt(name, ext string) bool {
	if ext == "" {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ext)
}
