// Package qr renders QR codes as PNG images.
package qr

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/skip2/go-qrcode"

	connect "github.com/goliatone/go-connect"
)

const DefaultSize = 256

// Renderer implements connect.QRRenderer
type Renderer struct {
	level qrcode.RecoveryLevel
}

var _ connect.QRRenderer = (*Renderer)(nil)

// New returns a renderer using medium error correction
func New() *Renderer {
	return &Renderer{level: qrcode.Medium}
}

// PNG encodes content as a size x size image
func (r *Renderer) PNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, goerrors.New("qr content is empty", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	if size <= 0 {
		size = DefaultSize
	}

	png, err := qrcode.Encode(content, r.level, size)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode qr code")
	}
	return png, nil
}
