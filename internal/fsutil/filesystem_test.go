package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "out", "maps")
	require.NoError(t, fsys.MkdirAll(dir))

	w, err := fsys.Create(filepath.Join(dir, "a.html"))
	require.NoError(t, err)
	_, err = io.WriteString(w, "<html>")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := fsys.Open(filepath.Join(dir, "a.html"))
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(data))

	_, err = fsys.Open(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMemoryFileSystem_OpenAndCreate(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.Add("logs/run1.csv", "Time Stamp,Temperature\n")

	r, err := mfs.Open("logs/./run1.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "Time Stamp,Temperature\n", string(data))

	_, err = mfs.Open("logs/run2.csv")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// Parent directory must exist.
	_, err = mfs.Create("plots/run1.html")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, mfs.MkdirAll("plots"))
	w, err := mfs.Create("plots/run1.html")
	require.NoError(t, err)
	_, _ = io.WriteString(w, "chart")
	got, ok := mfs.Contents("plots/run1.html")
	assert.True(t, ok)
	assert.Empty(t, got, "content appears on Close")
	require.NoError(t, w.Close())

	got, ok = mfs.Contents("plots/run1.html")
	assert.True(t, ok)
	assert.Equal(t, "chart", string(got))
}

func TestMemoryFileSystem_Concurrent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.Add("in.csv", "x")
	require.NoError(t, mfs.MkdirAll("out"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := mfs.Open("in.csv")
			if assert.NoError(t, err) {
				_, _ = io.ReadAll(r)
			}
			w, err := mfs.Create(filepath.Join("out", SanitizeFilename(string(rune('a'+i)))))
			if assert.NoError(t, err) {
				_ = w.Close()
			}
		}(i)
	}
	wg.Wait()
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		dir, source, ext string
		want             string
	}{
		{"plots", "/data/run 12.csv", ".png", filepath.Join("plots", "run_12.png")},
		{"plots", "EDX map (Cu).txt", ".html", filepath.Join("plots", "EDX_map_Cu.html")},
		{"", "logs/anneal.v2.csv", ".png", "anneal.v2.png"},
		{"out", "???", ".png", filepath.Join("out", "unknown.png")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputPath(tt.dir, tt.source, tt.ext), tt.source)
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "unknown", SanitizeFilename(""))
	assert.Equal(t, "a_b", SanitizeFilename("a//b"))
	assert.Equal(t, "Ti-Cu_2025-01-02", SanitizeFilename("Ti-Cu 2025-01-02"))
	assert.Equal(t, "x", SanitizeFilename(string(make([]byte, 300))+"x"))
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 300)), 128)
}
