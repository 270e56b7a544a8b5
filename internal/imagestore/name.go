package imagestore

import (
	"path"
	"regexp"
	"strings"
)

// FallbackName replaces a client filename with no usable characters
const FallbackName = "image"

const defaultExtension = "jpg"

var (
	disallowedNameChars = regexp.MustCompile(`[^A-Za-z0-9 ]`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
	disallowedExtChars  = regexp.MustCompile(`[^a-z0-9]`)
)

// SanitizeName keeps the letters, digits and spaces of the filename without its
// extension and turns each run of spaces into a dash. An empty result becomes
// FallbackName.
func SanitizeName(originalFilename string) string {
	name := stem(originalFilename)
	name = disallowedNameChars.ReplaceAllString(name, "")
	name = whitespaceRun.ReplaceAllString(name, "-")

	if name == "" {
		return FallbackName
	}
	return name
}

// Extension is the client's file extension, lower-cased and limited to [a-z0-9].
func Extension(originalFilename string) string {
	ext := strings.TrimPrefix(path.Ext(clientBase(originalFilename)), ".")
	ext = disallowedExtChars.ReplaceAllString(strings.ToLower(ext), "")

	if ext == "" {
		return defaultExtension
	}
	return ext
}

// stem is the base name up to the last dot
func stem(filename string) string {
	base := clientBase(filename)
	return strings.TrimSuffix(base, path.Ext(base))
}

// clientBase drops any directory part the client sent, in either separator style
func clientBase(filename string) string {
	filename = strings.ReplaceAll(filename, `\`, "/")
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}
	return filename
}
