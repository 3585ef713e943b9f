package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcompose/internal/config"
)

func TestTextParser(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		want     string
		wantErr  bool
	}{
		{name: "plain", filename: "a.txt", data: []byte("line one\nline two"), want: "line one\nline two"},
		{name: "utf8 bom stripped", filename: "a.csv", data: []byte("\xEF\xBB\xBFa,b"), want: "a,b"},
		{name: "utf16le with bom", filename: "a.txt", data: []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, want: "hi"},
		{name: "nul removed", filename: "a.log", data: []byte("a\x00b"), want: "ab"},
		{name: "literal replacement char kept", filename: "a.txt", data: []byte("bad � char"), want: "bad � char"},
		{
			name:     "html",
			filename: "page.HTML",
			data:     []byte("<html><head><title>Doc</title><style>p{}</style></head><body><ul><li>one</li><li>two</li></ul><img alt=\"logo\"></body></html>"),
			want:     "# Doc\n\n- one\n- two [Image: logo]",
		},
		{name: "invalid utf8", filename: "a.bin", data: []byte{0x80, 0x81, 0xC3, 0x28}, wantErr: true},
		{name: "pdf", filename: "doc.pdf", data: []byte("%PDF-1.7 ..."), wantErr: true},
		{name: "image", filename: "pic.jpeg", data: []byte{0xFF, 0xD8}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TextParser{}.Parse(tt.filename, tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	id := uuid.MustParse("6f1a2b3c-0000-4000-8000-000000000001")

	assert.Equal(t,
		"File:\nfile name: a.txt\nfile_id: file_id:6f1a2b3c-0000-4000-8000-000000000001\nFile contents\n---\nbody\n---",
		FormatContent("a.txt", id, "body"))
	assert.Equal(t,
		"File:\nfile name: a.txt\nfile_id: file_id:6f1a2b3c-0000-4000-8000-000000000001\nNo file contents available as the file was not parseable. This info should be returned to the user.",
		FormatError("a.txt", id, true))
	assert.Equal(t,
		"File:\nfile name: Unknown\nfile_id: file_id:6f1a2b3c-0000-4000-8000-000000000001\nUnable to retrieve file contents due to an unknown error. Please contact support if this issue persists.",
		FormatError(UnknownFilename, id, false))
	assert.Equal(t,
		"File:\nfile name: a.txt\nfile_id: file_id:6f1a2b3c-0000-4000-8000-000000000001\nUnable to retrieve file contents because the current user does not have permission to access this file.",
		FormatPermissionError("a.txt", id))
}

func TestImageDetection(t *testing.T) {
	tests := []struct {
		filename string
		image    bool
		mime     string
	}{
		{"photo.JPG", true, "image/jpeg"},
		{"photo.jpeg", true, "image/jpeg"},
		{"icon.ico", true, "image/x-icon"},
		{"scan.tif", true, "image/tiff"},
		{"vector.svg", true, "image/svg+xml"},
		{"anim.webp", true, "image/webp"},
		{"notes.txt", false, "application/octet-stream"},
		{"no_extension", false, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.image, IsImageFilename(tt.filename))
			assert.Equal(t, tt.mime, MIMEType(tt.filename))
		})
	}
}

func TestLocalStorage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644))
	s := NewLocalStorage(root)
	ctx := context.Background()

	data, err := s.ReadFile(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)

	_, err = s.ReadFile(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = s.ReadFile(ctx, "../outside.txt")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.ReadFile(cancelled, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProviders(t *testing.T) {
	p, err := NewProviders(config.StorageConfig{Providers: map[string]config.StorageProviderConfig{
		"local": {Kind: "local", Root: t.TempDir()},
	}})
	require.NoError(t, err)

	_, err = p.Get("local")
	assert.NoError(t, err)
	_, err = p.Get("azure")
	assert.ErrorIs(t, err, ErrStorageProviderNotFound)

	_, err = NewProviders(config.StorageConfig{Providers: map[string]config.StorageProviderConfig{
		"s3": {Kind: "s3"},
	}})
	assert.Error(t, err)
}
