package core

import (
	"fmt"
	"math"
	"path"
	"strings"
)

const maxNameLength = 200

// SanitizeFilename strips directory components and control characters and
// replaces anything outside [A-Za-z0-9._-] with an underscore. Runs of dots
// collapse to one and leading dots and underscores are removed. The result
// may be empty.
func SanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before taking the base name.
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name = b.String()
	if len(name) > maxNameLength {
		ext := path.Ext(name)
		if len(ext) >= maxNameLength {
			ext = ""
		}
		name = name[:maxNameLength-len(ext)] + ext
	}

	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.TrimLeft(name, "._")

	return name
}

// maxExtLength bounds the extensions SplitUpload keeps separate from the stem.
const maxExtLength = 16

// SplitUpload splits a client-supplied filename into a sanitized stem and a
// lowercase extension. The extension is read from the declared base name
// before sanitizing, so names whose stem is entirely non-ASCII keep it. Only
// ".<ASCII alphanumerics>" counts as an extension; anything else stays part
// of the stem and ext is empty. An empty stem becomes "upload".
func SplitUpload(filename string) (stem, ext string) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))

	ext = path.Ext(base)
	if isPlainExt(ext) {
		base = strings.TrimSuffix(base, ext)
		ext = strings.ToLower(ext)
	} else {
		ext = ""
	}

	stem = strings.TrimRight(SanitizeFilename(base), ".")
	if stem == "" {
		stem = "upload"
	}
	return stem, ext
}

func isPlainExt(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtLength || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Ratio returns the size reduction in percent, rounded to two decimals.
// Outputs larger than their input give a negative ratio.
func Ratio(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	r := float64(original-compressed) / float64(original) * 100
	return math.Round(r*100) / 100
}

// HumanizeBytes formats a byte count into a human-readable string.
func HumanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
