// Package pdfgen assembles ordered image bodies into a single PDF, one
// image per page. It is the only CPU-bound step of a conversion and is
// run off the I/O path by the orchestrator.
package pdfgen

import (
	"bytes"
	"errors"
	"fmt"

	"codeberg.org/go-pdf/fpdf"
)

var (
	// ErrUnsupportedFormat means an image body is not a raster format the
	// encoder accepts (JPEG, PNG or GIF).
	ErrUnsupportedFormat = errors.New("image format is not supported")
	// ErrEncode covers every other codec failure.
	ErrEncode = errors.New("pdf encoding failed")
)

// A4 portrait in millimetres.
const pageWidth = 210

// Encode renders each image body onto its own A4 page, in the order
// given, and returns the PDF bytes.
func Encode(images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images to encode", ErrEncode)
	}

	pdf := fpdf.New("P", "mm", "A4", "")

	for i, img := range images {
		kind := detectFormat(img)
		if kind == "" {
			return nil, fmt.Errorf("%w: image %d", ErrUnsupportedFormat, i)
		}

		alias := fmt.Sprintf("page-%d", i)
		opts := fpdf.ImageOptions{ImageType: kind, ReadDpi: true}

		pdf.RegisterImageOptionsReader(alias, opts, bytes.NewReader(img))
		if pdf.Err() {
			// Registration decodes the image header, so a failure here is
			// a body that lied about its format.
			return nil, fmt.Errorf("%w: image %d: %v", ErrUnsupportedFormat, i, pdf.Error())
		}

		pdf.AddPage()
		pdf.ImageOptions(alias, 0, 0, pageWidth, 0, false, opts, 0, "")
		if pdf.Err() {
			return nil, fmt.Errorf("%w: image %d: %v", ErrEncode, i, pdf.Error())
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// detectFormat sniffs the magic bytes of the accepted raster formats and
// returns the type name fpdf expects, or "" for anything else.
func detectFormat(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "JPEG"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "PNG"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "GIF"
	}
	return ""
}
