package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		wantErr     error
	}{
		{"png", "cat.png", "image/png", nil},
		{"upper case jpeg", "CAT.JPEG", "image/jpeg", nil},
		{"webp", "cat.webp", "image/webp", nil},
		{"no content type", "cat.jpg", "", nil},
		{"no filename", "", "image/png", nil},
		{"text content", "cat.png", "text/plain", ErrUnsupportedMediaType},
		{"octet stream", "cat.png", "application/octet-stream", ErrUnsupportedMediaType},
		{"gif", "cat.gif", "image/gif", ErrUnsupportedExtension},
		{"bmp upload", "cat.bmp", "image/bmp", ErrUnsupportedExtension},
		{"no extension", "cat", "image/png", ErrUnsupportedExtension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.filename, tt.contentType)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		input, ext, want string
	}{
		{"photo.jpg", "", "photo_processed.png"},
		{"/tmp/uploads/photo.final.jpeg", ".png", "photo.final_processed.png"},
		{"café crème.png", ".png", "cafe_creme_processed.png"},
		{"../../etc/passwd", ".png", "passwd_processed.png"},
		{"日本.png", ".webp", "image_processed.webp"},
		{"", "", "image_processed.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputName(tt.input, tt.ext), tt.input)
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Ubermensch", SanitizeName("Übermensch"))
	assert.Equal(t, "a_b-c", SanitizeName("a b-c"))
	assert.Equal(t, "x", SanitizeName("..x.."))
}
