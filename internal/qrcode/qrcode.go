package qrcode

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// PNG renders content as a square QR code image of size pixels.
func PNG(content string, size int) ([]byte, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encode: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: scale: %w", err)
	}
	var buf bytes.Buffer
	if errEncode := png.Encode(&buf, scaled); errEncode != nil {
		return nil, fmt.Errorf("qrcode: png: %w", errEncode)
	}
	return buf.Bytes(), nil
}
