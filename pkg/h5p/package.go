package h5p

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	manifestEntry = "h5p.json"
	contentEntry  = "content/content.json"
	libraryEntry  = "library.json"
)

// Manifest is the h5p.json document of a package.
type Manifest struct {
	Title                 string       `json:"title"`
	Language              string       `json:"language,omitempty"`
	MainLibrary           string       `json:"mainLibrary"`
	EmbedTypes            []string     `json:"embedTypes,omitempty"`
	License               string       `json:"license,omitempty"`
	PreloadedDependencies []LibraryRef `json:"preloadedDependencies,omitempty"`
}

type assetPath struct {
	Path string `json:"path"`
}

// LibraryManifest is the library.json document of a library folder.
type LibraryManifest struct {
	Title                 string       `json:"title"`
	MachineName           string       `json:"machineName"`
	MajorVersion          int          `json:"majorVersion"`
	MinorVersion          int          `json:"minorVersion"`
	PatchVersion          int          `json:"patchVersion"`
	Runnable              int          `json:"runnable"`
	PreloadedJS           []assetPath  `json:"preloadedJs,omitempty"`
	PreloadedCSS          []assetPath  `json:"preloadedCss,omitempty"`
	PreloadedDependencies []LibraryRef `json:"preloadedDependencies,omitempty"`
}

// Library converts m to a Library record.
func (m *LibraryManifest) Library() *Library {
	lib := &Library{
		MachineName:  m.MachineName,
		MajorVersion: m.MajorVersion,
		MinorVersion: m.MinorVersion,
		PatchVersion: m.PatchVersion,
		Title:        m.Title,
		Runnable:     m.Runnable == 1,
		Dependencies: m.PreloadedDependencies,
	}
	for _, js := range m.PreloadedJS {
		lib.PreloadedJS = append(lib.PreloadedJS, js.Path)
	}
	for _, css := range m.PreloadedCSS {
		lib.PreloadedCSS = append(lib.PreloadedCSS, css.Path)
	}
	return lib
}

// Package is a parsed .h5p archive.
type Package struct {
	Manifest  Manifest
	Params    json.RawMessage
	Libraries []*LibraryManifest

	files []*zip.File
}

// Entries returns the archive entries other than directories.
func (p *Package) Entries() []*zip.File {
	return p.files
}

// ReadPackage parses an .h5p archive.
func ReadPackage(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}

	pkg := &Package{}
	var haveManifest, haveContent bool
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !safeEntryName(f.Name) {
			return nil, fmt.Errorf("%w: unsafe entry %q", ErrInvalidPackage, f.Name)
		}
		pkg.files = append(pkg.files, f)

		switch {
		case f.Name == manifestEntry:
			if err := decodeEntry(f, &pkg.Manifest); err != nil {
				return nil, err
			}
			haveManifest = true
		case f.Name == contentEntry:
			var raw json.RawMessage
			if err := decodeEntry(f, &raw); err != nil {
				return nil, err
			}
			pkg.Params = raw
			haveContent = true
		case path.Base(f.Name) == libraryEntry && strings.Count(f.Name, "/") == 1:
			var lib LibraryManifest
			if err := decodeEntry(f, &lib); err != nil {
				return nil, err
			}
			pkg.Libraries = append(pkg.Libraries, &lib)
		}
	}

	if !haveManifest {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPackage, manifestEntry)
	}
	if !haveContent {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPackage, contentEntry)
	}
	if pkg.Manifest.MainLibrary == "" {
		return nil, fmt.Errorf("%w: mainLibrary is required", ErrInvalidPackage)
	}
	return pkg, nil
}

func decodeEntry(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInvalidPackage, f.Name, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidPackage, f.Name, err)
	}
	return nil
}

func safeEntryName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// WritePackage writes an .h5p archive containing the manifest, the content
// params and every extra entry except the two it generates itself.
func WritePackage(w io.Writer, manifest Manifest, params json.RawMessage, extra []*zip.File) error {
	zw := zip.NewWriter(w)

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeEntry(zw, manifestEntry, manifestJSON); err != nil {
		return err
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := writeEntry(zw, contentEntry, params); err != nil {
		return err
	}

	for _, f := range extra {
		if f.Name == manifestEntry || f.Name == contentEntry || f.FileInfo().IsDir() {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.Name, err)
		}
	}

	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
