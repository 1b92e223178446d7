// Package zip bundles generated images into a single archive for download.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
)

// Asset is one file to place in the archive.
type Asset struct {
	Filename string
	Data     []byte
}

// Archive writes the assets into w as a zip stream.
func Archive(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	for _, asset := range assets {
		f, err := zw.Create(asset.Filename)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := f.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	return zw.Close()
}
