package util

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
)

// magicByteExt pairs a file signature with the extension the image cache
// uses for it.
var magicByteExt = []struct {
	magic []byte
	ext   string
}{
	{[]byte("GIF8"), "gif"},
	{[]byte{0xFF, 0xD8}, "jpg"},
	{[]byte{0x89, 'P', 'N', 'G'}, "png"},
	{[]byte{0x49, 0x49, 0x2A, 0x00}, "tif"}, // little-endian TIFF
	{[]byte{0x4D, 0x4D, 0x00, 0x2A}, "tif"}, // big-endian TIFF
	{[]byte("BM"), "bmp"},
	{[]byte{0x00, 0x00, 0x01, 0x00}, "ico"},
}

// sniffExt detects an image extension from the first 2-4 magic bytes of
// content. It returns "" if nothing matches.
func sniffExt(content []byte) string {
	for _, m := range magicByteExt {
		if len(content) >= len(m.magic) && string(content[:len(m.magic)]) == string(m.magic) {
			return m.ext
		}
	}
	return ""
}

// FriendlyImageName returns the on-disk cache name for image content:
// "<sha1(content)>.<ext>", ext sniffed from the payload's magic bytes.
// Unrecognized content gets the bare checksum with no extension.
func FriendlyImageName(content []byte) string {
	sum := sha1.Sum(content) //nolint:gosec
	name := hex.EncodeToString(sum[:])
	if ext := sniffExt(content); ext != "" {
		return name + "." + ext
	}
	return name
}
