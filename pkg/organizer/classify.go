package organizer

import (
	"fmt"
	"path/filepath"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// Scheme selects how files are bucketed into destination folders.
type Scheme string

const (
	// SchemeExtension buckets by lower-case extension: "jpg".
	SchemeExtension Scheme = "ext"
	// SchemeExtensionPrefixed buckets by extension behind a fixed prefix:
	// "dot jpg".
	SchemeExtensionPrefixed Scheme = "ext-prefixed"
	// SchemeStem buckets by file name without its extension.
	SchemeStem Scheme = "stem"
)

// DefaultScheme is used when none is configured.
const DefaultScheme = SchemeExtensionPrefixed

// MiscKey is the folder for files the scheme cannot classify.
const MiscKey = "Miscellaneous"

const extPrefix = "dot "

// ErrUnknownScheme is returned by ParseScheme.
var ErrUnknownScheme = errors.Base("unknown grouping scheme")

// Schemes lists every supported scheme.
func Schemes() []Scheme {
	return []Scheme{SchemeExtension, SchemeExtensionPrefixed, SchemeStem}
}

// ParseScheme validates a scheme name. An empty name selects DefaultScheme.
func ParseScheme(name string) (Scheme, error) {
	if name == "" {
		return DefaultScheme, nil
	}
	for _, s := range Schemes() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", errors.Errorf("%w: %q", ErrUnknownScheme, name)
}

// Classify returns the folder name for filename under scheme.
// Dotfiles like ".gitignore" count as having no extension.
func Classify(filename string, scheme Scheme) string {
	ext, stem := splitName(filename)

	var key string
	switch scheme {
	case SchemeStem:
		key = stem
	case SchemeExtension:
		key = strings.ToLower(ext)
	default:
		if ext != "" {
			key = extPrefix + strings.ToLower(ext)
		}
	}

	return sanitizeKey(key)
}

// splitName returns the extension without its dot and the remaining stem.
func splitName(filename string) (ext, stem string) {
	dotExt := filepath.Ext(filename)
	stem = strings.TrimSuffix(filename, dotExt)
	if stem == "" {
		// ".gitignore": the whole name is the stem.
		return "", filename
	}
	return strings.TrimPrefix(dotExt, "."), stem
}

func sanitizeKey(key string) string {
	key = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimSpace(key))

	if key == "" || key == "." || key == ".." {
		return MiscKey
	}
	return key
}

// conflictName returns name unchanged for n == 0, otherwise it inserts
// "_n" before the extension: "photo.jpg", 2 -> "photo_2.jpg".
func conflictName(name string, n int) string {
	if n == 0 {
		return name
	}

	ext, stem := splitName(name)
	if ext == "" {
		return fmt.Sprintf("%s_%d", stem, n)
	}
	return fmt.Sprintf("%s_%d.%s", stem, n, ext)
}
