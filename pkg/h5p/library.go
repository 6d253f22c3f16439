package h5p

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLibraryRef parses "H5P.MultiChoice 1.16". A dash separator
// ("H5P.MultiChoice-1.16") is accepted as well.
func ParseLibraryRef(s string) (LibraryRef, error) {
	s = strings.TrimSpace(s)
	sep := strings.LastIndexAny(s, " -")
	if sep <= 0 || sep == len(s)-1 {
		return LibraryRef{}, fmt.Errorf("%w: %q", ErrInvalidLibrary, s)
	}

	name, version := s[:sep], s[sep+1:]
	major, minor, ok := strings.Cut(version, ".")
	if !ok {
		return LibraryRef{}, fmt.Errorf("%w: %q", ErrInvalidLibrary, s)
	}
	majorVersion, err := strconv.Atoi(major)
	if err != nil {
		return LibraryRef{}, fmt.Errorf("%w: %q", ErrInvalidLibrary, s)
	}
	minorVersion, err := strconv.Atoi(minor)
	if err != nil {
		return LibraryRef{}, fmt.Errorf("%w: %q", ErrInvalidLibrary, s)
	}

	return LibraryRef{MachineName: name, MajorVersion: majorVersion, MinorVersion: minorVersion}, nil
}
