package h5p_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-h5p/pkg/h5p"
)

// quizPackage is a MultiChoice content depending on H5P.Question and
// FontAwesome, with one content image.
var quizPackage = map[string]string{
	"h5p.json": `{
		"title": "Quiz",
		"language": "en",
		"mainLibrary": "H5P.MultiChoice",
		"embedTypes": ["iframe"],
		"license": "U",
		"preloadedDependencies": [
			{"machineName": "H5P.MultiChoice", "majorVersion": 1, "minorVersion": 16}
		]
	}`,
	"content/content.json":   `{"question":"2+2?"}`,
	"content/images/pic.png": "png",
	"H5P.MultiChoice-1.16/library.json": `{
		"title": "Multiple Choice",
		"machineName": "H5P.MultiChoice",
		"majorVersion": 1,
		"minorVersion": 16,
		"patchVersion": 4,
		"runnable": 1,
		"preloadedJs": [{"path": "js/multichoice.js"}],
		"preloadedCss": [{"path": "css/multichoice.css"}],
		"preloadedDependencies": [
			{"machineName": "H5P.Question", "majorVersion": 1, "minorVersion": 5},
			{"machineName": "FontAwesome", "majorVersion": 4, "minorVersion": 5}
		]
	}`,
	"H5P.MultiChoice-1.16/js/multichoice.js":   "var mc;",
	"H5P.MultiChoice-1.16/css/multichoice.css": ".mc{}",
	"H5P.Question-1.5/library.json": `{
		"title": "Question",
		"machineName": "H5P.Question",
		"majorVersion": 1,
		"minorVersion": 5,
		"patchVersion": 1,
		"runnable": 0,
		"preloadedJs": [{"path": "scripts/question.js"}],
		"preloadedDependencies": [
			{"machineName": "FontAwesome", "majorVersion": 4, "minorVersion": 5}
		]
	}`,
	"H5P.Question-1.5/scripts/question.js": "var q;",
	"FontAwesome-4.5/library.json": `{
		"title": "Font Awesome",
		"machineName": "FontAwesome",
		"majorVersion": 4,
		"minorVersion": 5,
		"patchVersion": 0,
		"runnable": 0,
		"preloadedCss": [{"path": "h5p-font-awesome.min.css"}]
	}`,
	"FontAwesome-4.5/h5p-font-awesome.min.css": ".fa{}",
}

func buildPackage(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func withoutEntry(files map[string]string, name string) map[string]string {
	out := make(map[string]string, len(files))
	for k, v := range files {
		if k != name {
			out[k] = v
		}
	}
	return out
}

func TestReadPackage(t *testing.T) {
	data := buildPackage(t, quizPackage)

	pkg, err := h5p.ReadPackage(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, "Quiz", pkg.Manifest.Title)
	assert.Equal(t, "H5P.MultiChoice", pkg.Manifest.MainLibrary)
	assert.JSONEq(t, `{"question":"2+2?"}`, string(pkg.Params))
	assert.Len(t, pkg.Entries(), len(quizPackage))

	require.Len(t, pkg.Libraries, 3)
	byName := map[string]*h5p.LibraryManifest{}
	for _, lib := range pkg.Libraries {
		byName[lib.MachineName] = lib
	}
	mc := byName["H5P.MultiChoice"].Library()
	assert.True(t, mc.Runnable)
	assert.Equal(t, []string{"js/multichoice.js"}, mc.PreloadedJS)
	assert.Equal(t, []string{"css/multichoice.css"}, mc.PreloadedCSS)
	assert.Equal(t, "H5P.MultiChoice-1.16", mc.Dir())
	assert.Len(t, mc.Dependencies, 2)
	assert.False(t, byName["FontAwesome"].Library().Runnable)
}

func TestReadPackage_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"MissingManifest", withoutEntry(quizPackage, "h5p.json")},
		{"MissingContent", withoutEntry(quizPackage, "content/content.json")},
		{"NoMainLibrary", map[string]string{"h5p.json": `{"title":"x"}`, "content/content.json": `{}`}},
		{"BrokenManifest", map[string]string{"h5p.json": `{`, "content/content.json": `{}`}},
		{"UnsafePath", map[string]string{"h5p.json": `{"title":"x","mainLibrary":"A"}`, "content/content.json": `{}`, "../evil.js": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildPackage(t, tt.files)
			_, err := h5p.ReadPackage(bytes.NewReader(data), int64(len(data)))
			assert.True(t, errors.Is(err, h5p.ErrInvalidPackage), "got %v", err)
		})
	}

	t.Run("NotAZip", func(t *testing.T) {
		data := []byte("definitely not a zip")
		_, err := h5p.ReadPackage(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, h5p.ErrInvalidPackage)
	})
}

func TestWritePackage(t *testing.T) {
	source := buildPackage(t, quizPackage)
	zr, err := zip.NewReader(bytes.NewReader(source), int64(len(source)))
	require.NoError(t, err)

	manifest := h5p.Manifest{
		Title:       "Renamed",
		Language:    "und",
		MainLibrary: "H5P.MultiChoice",
		PreloadedDependencies: []h5p.LibraryRef{
			{MachineName: "H5P.MultiChoice", MajorVersion: 1, MinorVersion: 16},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, h5p.WritePackage(&buf, manifest, json.RawMessage(`{"question":"3+3?"}`), zr.File))

	pkg, err := h5p.ReadPackage(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", pkg.Manifest.Title)
	assert.JSONEq(t, `{"question":"3+3?"}`, string(pkg.Params))
	// generated entries replace the copied ones
	assert.Len(t, pkg.Entries(), len(quizPackage))
	assert.Len(t, pkg.Libraries, 3)
}

func TestWritePackage_EmptyParams(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, h5p.WritePackage(&buf, h5p.Manifest{Title: "Empty", MainLibrary: "A"}, nil, nil))

	pkg, err := h5p.ReadPackage(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(pkg.Params))
}
