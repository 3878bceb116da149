package provider

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// maxImageBytes caps decoded image attachments at 10 MiB.
const maxImageBytes = 10 << 20

// TempImageFile materializes an image attachment as a local file and returns
// its path. Path-backed images are returned as-is; base64 payloads are
// decoded into a temp file whose suffix matches the MIME type. Oversized
// payloads are rejected before decoding.
//
// Callers own cleanup of returned temp files (path-backed images must not
// be removed).
func TempImageFile(img Image) (path string, temp bool, err error) {
	if img.Path != "" {
		return img.Path, false, nil
	}
	if img.Base64 == "" {
		return "", false, fmt.Errorf("image has neither path nor base64 data")
	}

	mime, data := splitDataURL(img.Base64, img.MimeType)
	raw, err := decodeBase64(data)
	if err != nil {
		return "", false, err
	}

	f, err := os.CreateTemp("", "chorus-image-*"+extForMIME(mime))
	if err != nil {
		return "", false, fmt.Errorf("create image temp file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", false, fmt.Errorf("write image temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", false, fmt.Errorf("close image temp file: %w", err)
	}
	return f.Name(), true, nil
}

// EncodeImage returns the MIME type and base64 payload for providers that
// take inline image data. Path-backed images are read and encoded; data URLs
// are split; bare base64 defaults to image/png.
func EncodeImage(img Image) (mime, data string, err error) {
	if img.Base64 != "" {
		mime, data = splitDataURL(img.Base64, img.MimeType)
		if mime == "" {
			mime = "image/png"
		}
		if base64.StdEncoding.DecodedLen(len(data)) > maxImageBytes {
			return "", "", fmt.Errorf("image exceeds %d MiB limit", maxImageBytes>>20)
		}
		return mime, data, nil
	}

	if img.Path != "" {
		raw, err := os.ReadFile(img.Path)
		if err != nil {
			return "", "", fmt.Errorf("read image %s: %w", img.Path, err)
		}
		if len(raw) > maxImageBytes {
			return "", "", fmt.Errorf("image exceeds %d MiB limit", maxImageBytes>>20)
		}
		mime = img.MimeType
		if mime == "" {
			mime = mimeForPath(img.Path)
		}
		return mime, base64.StdEncoding.EncodeToString(raw), nil
	}

	return "", "", fmt.Errorf("image has neither path nor base64 data")
}

// splitDataURL strips a data-URL prefix, returning the embedded MIME type
// (declared type wins when set) and the bare payload.
func splitDataURL(data, declaredMIME string) (mime, payload string) {
	mime = declaredMIME
	payload = data
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ";base64,"); idx >= 0 {
			if mime == "" {
				mime = data[len("data:"):idx]
			}
			payload = data[idx+len(";base64,"):]
		}
	}
	return mime, payload
}

// decodeBase64 decodes a payload, tolerating whitespace and missing padding.
func decodeBase64(data string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, data)

	if base64.StdEncoding.DecodedLen(len(cleaned)) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d MiB limit", maxImageBytes>>20)
	}

	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(cleaned)
	}
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	return raw, nil
}

// extForMIME picks a file suffix for a decoded image.
func extForMIME(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// mimeForPath sniffs a MIME type from a file extension.
func mimeForPath(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}
