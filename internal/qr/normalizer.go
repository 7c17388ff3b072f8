// Package qr converts provider QR payloads into one canonical form: a
// base64-encoded PNG without any data-URI prefix.
package qr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSize = 300
	// QuietZone is the white margin around the symbol, in modules.
	QuietZone = 2
)

// Normalizer renders scannable strings and cleans up pre-rendered images.
type Normalizer struct {
	size   int
	render func(content string, size int) ([]byte, error)
}

// NewNormalizer returns a Normalizer producing size×size images. A
// non-positive size falls back to DefaultSize.
func NewNormalizer(size int) *Normalizer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Normalizer{size: size, render: renderPNG}
}

// FromText renders raw into a base64 PNG. If rendering fails the raw string
// is returned unchanged: a present but unrendered code beats an error.
func (n *Normalizer) FromText(raw string) string {
	img, err := n.render(raw, n.size)
	if err != nil {
		log.Warn().Err(err).Msg("QR rendering failed, returning raw payload")
		return raw
	}
	return base64.StdEncoding.EncodeToString(img)
}

// FromImage accepts an already-encoded image and strips any data-URI prefix.
func (n *Normalizer) FromImage(encoded string) string {
	return StripDataURI(encoded)
}

// StripDataURI removes a leading "data:<mime>;base64," from s.
func StripDataURI(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if idx := strings.Index(s, ","); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func renderPNG(content string, size int) ([]byte, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	img := rasterize(code, size)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// rasterize scales the symbol plus its quiet zone onto a size×size canvas
// using pure black and white pixels only.
func rasterize(code barcode.Barcode, size int) *image.Gray {
	modules := code.Bounds().Dx()
	total := modules + 2*QuietZone
	if size < total {
		size = total
	}

	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		my := y*total/size - QuietZone
		for x := 0; x < size; x++ {
			mx := x*total/size - QuietZone
			c := color.Gray{Y: 0xff}
			if mx >= 0 && my >= 0 && mx < modules && my < modules && isDark(code.At(mx, my)) {
				c = color.Gray{Y: 0x00}
			}
			img.SetGray(x, y, c)
		}
	}
	return img
}

func isDark(c color.Color) bool {
	return color.GrayModel.Convert(c).(color.Gray).Y < 0x80
}
