package provider

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Smallest valid PNG header bytes, good enough for round-trip checks.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func TestTempImageFile_PathPassesThrough(t *testing.T) {
	path, temp, err := TempImageFile(Image{Path: "/images/shot.png"})
	require.NoError(t, err)
	require.False(t, temp)
	require.Equal(t, "/images/shot.png", path)
}

func TestTempImageFile_Base64DecodedToTempFile(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	path, temp, err := TempImageFile(Image{Base64: encoded, MimeType: "image/png"})
	require.NoError(t, err)
	require.True(t, temp)
	defer os.Remove(path)

	require.True(t, strings.HasSuffix(path, ".png"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, pngBytes, content)
}

func TestTempImageFile_DataURLPrefixStripped(t *testing.T) {
	encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	path, temp, err := TempImageFile(Image{Base64: encoded})
	require.NoError(t, err)
	require.True(t, temp)
	defer os.Remove(path)

	require.True(t, strings.HasSuffix(path, ".jpg"))
}

func TestTempImageFile_RejectsOversizedPayload(t *testing.T) {
	// Well over 10 MiB once decoded; rejected before any decode work
	huge := strings.Repeat("A", 15<<20)

	_, _, err := TempImageFile(Image{Base64: huge})
	require.Error(t, err)
	require.Contains(t, err.Error(), "limit")
}

func TestTempImageFile_MissingData_ReturnsError(t *testing.T) {
	_, _, err := TempImageFile(Image{})
	require.Error(t, err)
}

func TestEncodeImage_FromPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/pic.jpeg"
	require.NoError(t, os.WriteFile(path, pngBytes, 0o644))

	mime, data, err := EncodeImage(Image{Path: path})
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", mime)

	decoded, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	require.Equal(t, pngBytes, decoded)
}

func TestEncodeImage_FromDataURL(t *testing.T) {
	encoded := "data:image/webp;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	mime, data, err := EncodeImage(Image{Base64: encoded})
	require.NoError(t, err)
	require.Equal(t, "image/webp", mime)
	require.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), data)
}

func TestEncodeImage_BareBase64DefaultsToPNG(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	mime, _, err := EncodeImage(Image{Base64: encoded})
	require.NoError(t, err)
	require.Equal(t, "image/png", mime)
}

func TestEncodeImage_DeclaredMIMEWins(t *testing.T) {
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	mime, _, err := EncodeImage(Image{Base64: encoded, MimeType: "image/webp"})
	require.NoError(t, err)
	require.Equal(t, "image/webp", mime)
}

func TestEncodeImage_MissingData_ReturnsError(t *testing.T) {
	_, _, err := EncodeImage(Image{})
	require.Error(t, err)
}
