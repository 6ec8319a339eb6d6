package qr

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
)

// Placeholder renders a local QR code for content, for hosts that want
// something on screen while the real code cannot be fetched.
func Placeholder(content string, size int) (image.Image, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("placeholder qr: %w", err)
	}
	return code.Image(size), nil
}

// Terminal renders content as a block-character QR code.
func Terminal(content string) (string, error) {
	code, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("terminal qr: %w", err)
	}
	return code.ToSmallString(false), nil
}

// Save scales img to size pixels square and writes it; the format follows
// the file extension.
func Save(img image.Image, path string, size int) error {
	if size > 0 {
		img = imaging.Resize(img, size, size, imaging.NearestNeighbor)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save qr: %w", err)
	}
	return nil
}
