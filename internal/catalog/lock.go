package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SaveLock writes c as YAML to path, replacing any previous lock atomically.
func SaveLock(path string, c *Catalog) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "catalog: marshal lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "catalog: create lock dir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrap(err, "catalog: write lock")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrap(err, "catalog: replace lock")
	}
	return nil
}

// LoadLock reads a lock written by SaveLock. It returns nil, nil when the
// file does not exist.
func LoadLock(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read lock")
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse lock %s", path)
	}
	return &c, nil
}

// CompatibleWith reports whether combination indexes computed from c mean
// the same triples as those computed from prev. Years are ignored.
func (c *Catalog) CompatibleWith(prev *Catalog) error {
	if prev == nil {
		return nil
	}
	checks := []struct {
		name      string
		cur, prev []Option
	}{
		{"countries", c.Countries, prev.Countries},
		{"occupations", c.Occupations, prev.Occupations},
		{"attributes", c.Attributes, prev.Attributes},
	}
	for _, ch := range checks {
		if d := diffIDs(ch.cur, ch.prev); d != "" {
			return eris.Wrapf(ErrCatalogChanged, "%s: %s", ch.name, d)
		}
	}
	return nil
}

func diffIDs(cur, prev []Option) string {
	if len(cur) != len(prev) {
		return fmt.Sprintf("%d options, previously %d", len(cur), len(prev))
	}
	for i := range cur {
		if cur[i].ID != prev[i].ID {
			return fmt.Sprintf("position %d is %q, previously %q", i, cur[i].ID, prev[i].ID)
		}
	}
	return ""
}
