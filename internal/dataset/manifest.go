package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

const ManifestName = "manifest.json"

// ManifestItem is one servable file relative to a dataset root.
type ManifestItem struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type Manifest []ManifestItem

// CSV returns the bout table listed in the manifest: the item whose base name equals preferred
// when given, otherwise the first .csv item.
func (m Manifest) CSV(preferred string) (ManifestItem, bool) {
	if preferred != "" {
		for _, item := range m {
			if path.Base(item.Path) == preferred {
				return item, true
			}
		}
	}
	for _, item := range m {
		if strings.EqualFold(path.Ext(item.Path), ".csv") {
			return item, true
		}
	}
	return ManifestItem{}, false
}

// BuildManifest walks root and lists every regular file except the manifest itself, with
// forward-slash paths relative to root.
func BuildManifest(root string) (Manifest, error) {
	items := Manifest{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, ManifestItem{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return items, nil
}

func WriteManifest(w io.Writer, m Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}
