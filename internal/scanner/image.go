package scanner

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	ftypes "github.com/h2non/filetype/types"
)

// filetypeMatchFunc sniffs content types. Package-level so tests can inject a
// failing matcher.
var filetypeMatchFunc func([]byte) (ftypes.Type, error) = filetype.Match

// Prepared is an upload-ready screenshot.
type Prepared struct {
	Data   []byte
	MIME   string
	Ext    string
	Width  int
	Height int
}

// Prepare sniffs data and rejects anything that is not an image. When
// maxEdge > 0 and the longest edge exceeds it, the image is downscaled to fit
// and re-encoded as PNG.
func Prepare(data []byte, maxEdge int) (Prepared, error) {
	head := data
	if len(head) > 261 {
		head = head[:261]
	}
	kind, err := filetypeMatchFunc(head)
	if err != nil {
		return Prepared{}, fmt.Errorf("scanner: sniff: %w", err)
	}
	if kind == filetype.Unknown || kind.MIME.Type != "image" {
		return Prepared{}, ErrNotImage
	}
	p := Prepared{Data: data, MIME: kind.MIME.Value, Ext: kind.Extension}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Formats without a registered decoder (webp, gif) go up untouched.
		return p, nil
	}
	p.Width, p.Height = cfg.Width, cfg.Height
	if maxEdge <= 0 || (cfg.Width <= maxEdge && cfg.Height <= maxEdge) {
		return p, nil
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Prepared{}, fmt.Errorf("scanner: decode image: %w", err)
	}
	dst := imaging.Fit(src, maxEdge, maxEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.PNG); err != nil {
		return Prepared{}, fmt.Errorf("scanner: encode image: %w", err)
	}
	bounds := dst.Bounds()
	return Prepared{
		Data:   buf.Bytes(),
		MIME:   "image/png",
		Ext:    "png",
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
