// Package archive bundles a collection output directory into a zip file.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BundleName returns the archive filename for the given compact timestamp.
func BundleName(timestamp string) string {
	return fmt.Sprintf("all_reports_bundle_%s.zip", timestamp)
}

// BundlePath returns the archive path next to the output directory, so the
// archive's top-level entry is the output directory itself.
func BundlePath(outputDir, timestamp string) string {
	return filepath.Join(filepath.Dir(outputDir), BundleName(timestamp))
}

// ZipDir writes every regular file under srcDir into a deflate zip at
// zipPath, with entry paths relative to srcDir's parent. A pre-existing
// archive at zipPath is replaced, never appended to.
func ZipDir(srcDir, zipPath string) error {
	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old archive: %w", err)
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	files, err := collectFiles(srcDir)
	if err != nil {
		zw.Close()
		return err
	}

	base := filepath.Dir(srcDir)
	for _, path := range files {
		rel, err := filepath.Rel(base, path)
		if err != nil {
			zw.Close()
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// collectFiles returns all regular files under root in a stable order.
func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = strings.TrimPrefix(name, "/")
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
