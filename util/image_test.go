package util

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"testing"
)

func TestFriendlyImageName(t *testing.T) {
	cases := []struct {
		name    string
		content []byte
		wantExt string
	}{
		{"gif", []byte("GIF89a..."), ".gif"},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}, ".jpg"},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n'}, ".png"},
		{"tiff le", []byte{'I', 'I', 0x2a, 0x00}, ".tif"},
		{"tiff be", []byte{'M', 'M', 0x00, 0x2a}, ".tif"},
		{"bmp", []byte{'B', 'M', 0x76, 0x00}, ".bmp"},
		{"ico", []byte{0x00, 0x00, 0x01, 0x00}, ".ico"},
		{"unknown", []byte("plain text"), ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := FriendlyImageName(c.content)

			sum := sha1.Sum(c.content) //nolint:gosec
			want := hex.EncodeToString(sum[:]) + c.wantExt
			if got != want {
				t.Errorf("FriendlyImageName(%q) = %q, want %q", c.content, got, want)
			}
		})
	}
}

func TestFriendlyImageNameDeterministic(t *testing.T) {
	content := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	if a, b := FriendlyImageName(content), FriendlyImageName(content); a != b {
		t.Errorf("FriendlyImageName is not deterministic: %q != %q", a, b)
	}
}
