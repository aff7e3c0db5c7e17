package validation

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength = 255
	MaxAltLength   = 500
)

var allowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
}

var allowedImageMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
}

// SanitizeString removes potentially harmful characters
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}

// ValidateImageTitle checks the length of an image title after sanitizing.
func ValidateImageTitle(title string) bool {
	return utf8.RuneCountInString(SanitizeString(title)) <= MaxTitleLength
}

// ValidateImageAlt checks the length of an alt text after sanitizing.
func ValidateImageAlt(alt string) bool {
	return utf8.RuneCountInString(SanitizeString(alt)) <= MaxAltLength
}

// AllowedImageExtension reports whether the file name has an accepted image extension.
func AllowedImageExtension(filename string) bool {
	return allowedImageExts[strings.ToLower(filepath.Ext(filename))]
}

// AllowedImageMIME reports whether a detected MIME type is an accepted image type.
// Parameters such as charset are ignored.
func AllowedImageMIME(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	return allowedImageMIMEs[strings.ToLower(strings.TrimSpace(base))]
}
