package javaruntime

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/model"
)

type archiveEntry struct {
	name string
	body string
	dir  bool
}

func tarGz(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if e.dir {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeDir, Mode: 0o755}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(e.body))}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func zipArchive(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if !e.dir {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestExtractArchive(t *testing.T) {
	entries := []archiveEntry{
		{name: "jdk-21.0.1+12-jre/", dir: true},
		{name: "jdk-21.0.1+12-jre/bin/java", body: "#!/bin/sh"},
		{name: "jdk-21.0.1+12-jre/release", body: "JAVA_VERSION=21"},
	}

	tests := map[string]struct {
		archiveName string
		data        func(t *testing.T) []byte
		expTops     []string
		expErr      error
		expAnyErr   bool
	}{
		"A tar.gz archive should be extracted.": {
			archiveName: "rt.tar.gz",
			data:        func(t *testing.T) []byte { return tarGz(t, entries) },
			expTops:     []string{"jdk-21.0.1+12-jre"},
		},
		"A tgz archive should be extracted.": {
			archiveName: "rt.tgz",
			data:        func(t *testing.T) []byte { return tarGz(t, entries) },
			expTops:     []string{"jdk-21.0.1+12-jre"},
		},
		"A zip archive should be extracted.": {
			archiveName: "rt.zip",
			data:        func(t *testing.T) []byte { return zipArchive(t, entries) },
			expTops:     []string{"jdk-21.0.1+12-jre"},
		},
		"An unknown archive format should fail.": {
			archiveName: "rt.7z",
			data:        func(t *testing.T) []byte { return []byte("nope") },
			expErr:      model.ErrUnsupportedArchive,
		},
		"A tar entry escaping the destination should fail.": {
			archiveName: "evil.tar.gz",
			data: func(t *testing.T) []byte {
				return tarGz(t, []archiveEntry{{name: "../evil", body: "x"}})
			},
			expErr: model.ErrNotValid,
		},
		"A zip entry escaping the destination should fail.": {
			archiveName: "evil.zip",
			data: func(t *testing.T) []byte {
				return zipArchive(t, []archiveEntry{{name: "../../evil", body: "x"}})
			},
			expAnyErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			src := t.TempDir()
			dest := t.TempDir()
			archive := writeArchive(t, src, test.archiveName, test.data(t))

			tops, err := extractArchive(archive, dest)
			if test.expAnyErr {
				assert.Error(err)
				assert.NoFileExists(filepath.Join(filepath.Dir(filepath.Dir(dest)), "evil"))
				return
			}
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)
			assert.Equal(test.expTops, tops)

			got, err := os.ReadFile(filepath.Join(dest, "jdk-21.0.1+12-jre", "bin", "java"))
			require.NoError(err)
			assert.Equal("#!/bin/sh", string(got))
		})
	}
}

func TestFlattenInto(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	home := t.TempDir()
	nested := filepath.Join(home, "jdk-21")
	require.NoError(os.MkdirAll(filepath.Join(nested, "bin"), 0o755))
	require.NoError(os.WriteFile(filepath.Join(nested, "bin", "java"), []byte("new"), 0o755))
	// Stale content from a previous install.
	require.NoError(os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	require.NoError(os.WriteFile(filepath.Join(home, "bin", "java"), []byte("old"), 0o755))

	require.NoError(flattenInto(home, "jdk-21"))

	got, err := os.ReadFile(filepath.Join(home, "bin", "java"))
	require.NoError(err)
	assert.Equal("new", string(got))
	assert.NoDirExists(nested)
	assert.NoDirExists(filepath.Join(home, ".flatten-jdk-21"))
}

func TestNestedDir(t *testing.T) {
	got, err := nestedDir([]string{"jdk-21", "rt.tar.gz", ".java-version"}, "rt.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "jdk-21", got)

	_, err = nestedDir([]string{"a", "b"}, "rt.tar.gz")
	assert.ErrorIs(t, err, model.ErrNotValid)

	_, err = nestedDir(nil, "rt.tar.gz")
	assert.ErrorIs(t, err, model.ErrNotValid)
}
