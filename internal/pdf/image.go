package pdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // register decoders for page images
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a page background ready for embedding as a PDF image XObject.
type Image struct {
	Width            int
	Height           int
	ColorSpace       string // DeviceRGB or DeviceGray
	BitsPerComponent int
	Filter           string // DCTDecode or FlateDecode
	Data             []byte
}

// jpegMagic is the SOI marker every JFIF/EXIF stream starts with.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// DecodeImage converts raw image bytes into an embeddable Image.
//
// Grayscale and YCbCr/RGB JPEG streams pass through untouched under
// DCTDecode with the matching colorspace, keeping the page pixel-for-pixel
// identical to the scan. Everything else (PNG, TIFF, BMP, WebP, and exotic
// JPEG variants like Adobe CMYK) is decoded and re-encoded as
// flate-compressed DeviceRGB samples.
func DecodeImage(data []byte) (*Image, error) {
	if bytes.HasPrefix(data, jpegMagic) {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg config: %w", err)
		}
		// The DCT stream's component count must match the declared
		// colorspace; anything but the two common layouts is flattened.
		colorSpace := ""
		switch cfg.ColorModel {
		case color.GrayModel:
			colorSpace = "DeviceGray"
		case color.YCbCrModel, color.RGBAModel, color.NRGBAModel:
			colorSpace = "DeviceRGB"
		}
		if colorSpace != "" {
			return &Image{
				Width:            cfg.Width,
				Height:           cfg.Height,
				ColorSpace:       colorSpace,
				BitsPerComponent: 8,
				Filter:           "DCTDecode",
				Data:             data,
			}, nil
		}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("decode image: empty %s image", format)
	}

	// Flatten to non-premultiplied RGBA, then strip alpha. Scanned pages
	// have no meaningful transparency.
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	pixels := make([]byte, 0, w*h*3)
	for i := 0; i < w*h; i++ {
		offset := i * 4
		pixels = append(pixels, nrgba.Pix[offset], nrgba.Pix[offset+1], nrgba.Pix[offset+2])
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(pixels); err != nil {
		return nil, fmt.Errorf("compress image samples: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress image samples: %w", err)
	}

	return &Image{
		Width:            w,
		Height:           h,
		ColorSpace:       "DeviceRGB",
		BitsPerComponent: 8,
		Filter:           "FlateDecode",
		Data:             buf.Bytes(),
	}, nil
}
