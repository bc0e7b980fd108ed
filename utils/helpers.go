package utils

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatTIFF    = "tiff"
	formatBMP     = "bmp"
	formatWebP    = "webp"
	formatUnknown = "unknown"
)

// DetectFormat sniffs the leading bytes of data and returns the image format.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// TIFF: II 2A 00 (little endian) or MM 00 2A (big endian)
	if data[0] == 'I' && data[1] == 'I' && data[2] == 0x2A && data[3] == 0x00 {
		return formatTIFF
	}
	if data[0] == 'M' && data[1] == 'M' && data[2] == 0x00 && data[3] == 0x2A {
		return formatTIFF
	}
	// BMP: BM
	if data[0] == 'B' && data[1] == 'M' {
		return formatBMP
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return formatWebP
	}
	// Fallback to net/http sniffing.
	ct := http.DetectContentType(data)
	switch ct {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/webp":
		return formatWebP
	case "image/bmp":
		return formatBMP
	}
	return formatUnknown
}

// imageExts lists the input extensions a run will pick up while walking a
// source tree.  Matching is case-insensitive.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// IsImagePath reports whether path carries a decodable image extension.
func IsImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// SwapExt replaces the extension of rel with ext (which must include the
// leading dot), preserving the directory part.
func SwapExt(rel, ext string) string {
	old := filepath.Ext(rel)
	return rel[:len(rel)-len(old)] + ext
}

// FitDimensions computes output (w, h) so that the longest side does not
// exceed maxDim, preserving aspect ratio.  The third result reports whether
// scaling is needed at all.
func FitDimensions(srcW, srcH, maxDim int) (int, int, bool) {
	if maxDim <= 0 || (srcW <= maxDim && srcH <= maxDim) {
		return srcW, srcH, false
	}
	if srcW >= srcH {
		ratio := float64(maxDim) / float64(srcW)
		h := int(float64(srcH) * ratio)
		if h < 1 {
			h = 1
		}
		return maxDim, h, true
	}
	ratio := float64(maxDim) / float64(srcH)
	w := int(float64(srcW) * ratio)
	if w < 1 {
		w = 1
	}
	return w, maxDim, true
}

// BytesReader creates an io.Reader backed by b without allocation.
func BytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
