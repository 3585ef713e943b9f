package files

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UnknownFilename names files whose upload record is missing.
const UnknownFilename = "Unknown"

func header(sb *strings.Builder, filename string, id uuid.UUID) {
	sb.WriteString("File:\n")
	sb.WriteString("file name: " + filename + "\n")
	sb.WriteString("file_id: file_id:" + id.String() + "\n")
}

// FormatContent wraps extracted file text with its metadata header.
func FormatContent(filename string, id uuid.UUID, text string) string {
	var sb strings.Builder
	header(&sb, filename, id)
	sb.WriteString("File contents\n---\n")
	sb.WriteString(text)
	sb.WriteString("\n---")
	return sb.String()
}

// FormatError is the placeholder for files that could not be read.
func FormatError(filename string, id uuid.UUID, parseError bool) string {
	var sb strings.Builder
	header(&sb, filename, id)
	if parseError {
		sb.WriteString("No file contents available as the file was not parseable. This info should be returned to the user.")
	} else {
		sb.WriteString("Unable to retrieve file contents due to an unknown error. Please contact support if this issue persists.")
	}
	return sb.String()
}

// FormatPermissionError is the placeholder for files the user may not read.
func FormatPermissionError(filename string, id uuid.UUID) string {
	var sb strings.Builder
	header(&sb, filename, id)
	sb.WriteString("Unable to retrieve file contents because the current user does not have permission to access this file.")
	return sb.String()
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImageFilename reports whether filename has an image extension.
func IsImageFilename(filename string) bool {
	switch extension(filename) {
	case "jpg", "jpeg", "png", "gif", "webp", "bmp", "svg", "tiff", "tif", "ico":
		return true
	}
	return false
}

// MIMEType returns the image MIME type for filename.
func MIMEType(filename string) string {
	switch extension(filename) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "svg":
		return "image/svg+xml"
	case "tiff", "tif":
		return "image/tiff"
	case "ico":
		return "image/x-icon"
	}
	return "application/octet-stream"
}

// RemoveNullCharacters strips NUL bytes, which databases and providers reject.
func RemoveNullCharacters(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
