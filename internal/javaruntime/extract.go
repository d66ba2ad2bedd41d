package javaruntime

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/kilnhq/kiln/internal/model"
)

// extractArchive extracts archivePath into dest, dispatching by file extension.
// It returns the top level entries of the archive.
func extractArchive(archivePath, dest string) ([]string, error) {
	name := strings.ToLower(filepath.Base(archivePath))
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archivePath, dest)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTarGz(archivePath, dest)
	default:
		return nil, fmt.Errorf("%s: %w", name, model.ErrUnsupportedArchive)
	}
}

func extractTarGz(archivePath, dest string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive: %w", err)
	}
	defer gz.Close()

	tops := newTopLevel()
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return tops.list(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return nil, err
		}
		tops.add(header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return nil, err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(dest, target, header.Linkname); err != nil {
				return nil, err
			}
		default:
			// Hard links, devices and the like are not part of runtime archives.
			continue
		}
	}
}

func extractZip(archivePath, dest string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	tops := newTopLevel()
	for _, zf := range zr.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return nil, err
		}
		tops.add(zf.Name)

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", target, err)
			}
		case mode&os.ModeSymlink != 0:
			link, err := readZipEntry(zf)
			if err != nil {
				return nil, err
			}
			if err := writeSymlink(dest, target, string(link)); err != nil {
				return nil, err
			}
		default:
			rc, err := zf.Open()
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", zf.Name, err)
			}
			err = writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return nil, err
			}
		}
	}

	return tops.list(), nil
}

func readZipEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", zf.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", target, err)
	}
	if perm == 0 {
		perm = 0o644
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("extracting %s: %w", target, err)
	}
	return nil
}

func writeSymlink(dest, target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("absolute symlink %s -> %s: %w", target, link, model.ErrNotValid)
	}
	if _, err := safeJoin(dest, filepath.Join(filepath.Dir(mustRel(dest, target)), link)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", target, err)
	}
	_ = os.Remove(target)
	if err := os.Symlink(link, target); err != nil {
		return fmt.Errorf("creating symlink %s: %w", target, err)
	}
	return nil
}

// safeJoin joins an archive entry name to dest rejecting entries that escape it.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination: %w", name, model.ErrNotValid)
	}
	return target, nil
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

// topLevel collects the distinct first path components of archive entries in order.
type topLevel struct {
	seen  map[string]bool
	names []string
}

func newTopLevel() *topLevel { return &topLevel{seen: map[string]bool{}} }

func (t *topLevel) add(entry string) {
	entry = strings.TrimPrefix(filepath.ToSlash(entry), "./")
	first, _, _ := strings.Cut(entry, "/")
	if first == "" || first == "." || t.seen[first] {
		return
	}
	t.seen[first] = true
	t.names = append(t.names, first)
}

func (t *topLevel) list() []string { return t.names }

// flattenInto moves the children of parent/nested up into parent and removes
// the emptied nested directory. Existing entries in parent with the same name
// are replaced.
func flattenInto(parent, nested string) error {
	src := filepath.Join(parent, nested)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("extracted directory %s: %w", nested, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("extracted entry %s is not a directory: %w", nested, model.ErrNotValid)
	}

	// Move the nested dir aside so a child with the same name can't collide with it.
	staging := filepath.Join(parent, ".flatten-"+nested)
	_ = os.RemoveAll(staging)
	if err := os.Rename(src, staging); err != nil {
		return fmt.Errorf("staging extracted directory: %w", err)
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("reading extracted directory: %w", err)
	}

	for _, e := range entries {
		from := filepath.Join(staging, e.Name())
		to := filepath.Join(parent, e.Name())
		if err := os.RemoveAll(to); err != nil {
			return fmt.Errorf("replacing %s: %w", to, err)
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("moving %s: %w", e.Name(), err)
		}
	}

	if err := os.Remove(staging); err != nil {
		return fmt.Errorf("removing extracted directory: %w", err)
	}
	return nil
}
