package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractMember extracts one file of a ZIP archive into destDir and returns
// its path. An empty member selects the only file of a single-file archive.
func ExtractMember(zipPath, member, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	var files []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if member != "" && f.Name == member {
			return extractFile(f, destDir)
		}
		files = append(files, f)
	}

	if member != "" {
		return "", eris.Errorf("zip: member %q not found in %s", member, filepath.Base(zipPath))
	}
	if len(files) != 1 {
		return "", eris.Errorf("zip: %s holds %d files, name the member to load", filepath.Base(zipPath), len(files))
	}
	return extractFile(files[0], destDir)
}

func extractFile(f *zip.File, destDir string) (string, error) {
	dest := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(dest), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: open member %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrapf(err, "zip: write %s", f.Name)
	}
	return dest, nil
}
