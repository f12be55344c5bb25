// Package thumbnail scales fetched image bytes to a fixed box.
//
// The output always has exactly the requested dimensions; the aspect ratio of
// the source is not preserved. Output is encoded in the source format when it
// can be written back (jpeg, png, gif) and as png otherwise.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/italolelis/ambience_downloader/internal/transfer"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

// Resizer scales encoded image bytes.
type Resizer interface {
	Resize(name string, data []byte, width, height int) ([]byte, error)
}

// New returns the Resizer for backend, "imaging" or "nfnt".
func New(backend string) (Resizer, error) {
	switch backend {
	case "", "imaging":
		return ImagingResizer{}, nil
	case "nfnt":
		return NfntResizer{}, nil
	}

	return nil, fmt.Errorf("unknown resize backend: %s", backend)
}

// ImagingResizer resizes with disintegration/imaging using a Lanczos filter
// and honours EXIF orientation.
type ImagingResizer struct{}

func (ImagingResizer) Resize(name string, data []byte, width, height int) ([]byte, error) {
	format, err := sniff(name, data)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &transfer.DecodeError{Name: name, Stage: transfer.StageDecode, Err: err}
	}

	return encode(name, imaging.Resize(img, width, height, imaging.Lanczos), format)
}

// NfntResizer resizes with nfnt/resize using Lanczos3.
type NfntResizer struct{}

func (NfntResizer) Resize(name string, data []byte, width, height int) ([]byte, error) {
	format, err := sniff(name, data)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &transfer.DecodeError{Name: name, Stage: transfer.StageDecode, Err: err}
	}

	return encode(name, resize.Resize(uint(width), uint(height), img, resize.Lanczos3), format)
}

func sniff(name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &transfer.DecodeError{Name: name, Stage: transfer.StageDecode, Err: fmt.Errorf("empty body")}
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", &transfer.DecodeError{Name: name, Stage: transfer.StageDecode, Err: err}
	}

	return format, nil
}

func encode(name string, img image.Image, format string) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &transfer.DecodeError{Name: name, Stage: transfer.StageResize, Err: fmt.Errorf("empty result")}
	}

	out := imaging.PNG
	switch format {
	case "jpeg":
		out = imaging.JPEG
	case "gif":
		out = imaging.GIF
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, out, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, &transfer.DecodeError{Name: name, Stage: transfer.StageEncode, Err: err}
	}

	return buf.Bytes(), nil
}
