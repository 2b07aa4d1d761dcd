package javamgr

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/craftd/msm/pkg/apierr"
)

// extractRuntime unpacks a JDK archive into destDir and returns the
// runtime's home: the archive's single top-level directory.
func extractRuntime(archivePath, destDir string) (string, error) {
	var (
		top string
		err error
	)
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		top, err = extractZip(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
		top, err = extractTarGz(archivePath, destDir)
	default:
		return "", apierr.Resourcef(nil, "unknown archive format: %s", filepath.Base(archivePath))
	}
	if err != nil {
		return "", err
	}
	if top == "" {
		return "", apierr.Resourcef(nil, "archive %s had no top-level directory", filepath.Base(archivePath))
	}
	return filepath.Join(destDir, top), nil
}

func extractTarGz(archivePath, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", apierr.Resourcef(err, "failed to open archive")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", apierr.Resourcef(err, "archive is not valid gzip")
	}
	defer gz.Close()

	top := ""
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", apierr.Resourcef(err, "failed to read archive")
		}

		path, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return "", err
		}
		if top == "" {
			top = firstComponent(hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return "", apierr.Resourcef(err, "failed to create directory")
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return "", err
			}
		case tar.TypeSymlink:
			// JDK trees link within themselves; anything pointing out is
			// hostile and skipped.
			if filepath.IsAbs(hdr.Linkname) || escapes(hdr.Linkname) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", apierr.Resourcef(err, "failed to create directory")
			}
			os.Remove(path)
			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return "", apierr.Resourcef(err, "failed to create symlink")
			}
		}
	}
	return top, nil
}

func extractZip(archivePath, destDir string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", apierr.Resourcef(err, "archive is not valid zip")
	}
	defer zr.Close()

	top := ""
	for _, entry := range zr.File {
		path, err := safeJoin(destDir, entry.Name)
		if err != nil {
			return "", err
		}
		if top == "" {
			top = firstComponent(entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return "", apierr.Resourcef(err, "failed to create directory")
			}
			continue
		}

		src, err := entry.Open()
		if err != nil {
			return "", apierr.Resourcef(err, "failed to read archive entry")
		}
		err = writeFile(path, src, entry.FileInfo().Mode().Perm())
		src.Close()
		if err != nil {
			return "", err
		}
	}
	return top, nil
}

func writeFile(path string, src io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.Resourcef(err, "failed to create directory")
	}
	if perm == 0 {
		perm = 0o644
	}
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return apierr.Resourcef(err, "failed to create file")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return apierr.Resourcef(err, "failed to write file")
	}
	return dst.Close()
}

// safeJoin joins an archive entry name under dest, rejecting entries that
// would land outside it.
func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) || escapes(name) {
		return "", apierr.Refused("archive entry escapes the extraction directory: " + name)
	}
	return filepath.Join(dest, filepath.FromSlash(name)), nil
}

func escapes(name string) bool {
	clean := filepath.Clean(filepath.FromSlash(name))
	return clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

func firstComponent(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	if i := strings.IndexByte(name, '/'); i > 0 {
		return name[:i]
	}
	return name
}
