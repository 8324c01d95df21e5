package covers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/h2non/filetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Supported image format names.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// ErrNotImage is returned for payloads that are not a supported image.
var ErrNotImage = errors.New("unrecognized image format")

// DetectFormat sniffs the magic bytes of data.
func DetectFormat(data []byte) (string, error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", ErrNotImage
	}
	switch kind.Extension {
	case "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNotImage, kind.MIME.Value)
	}
}

// Normalize returns data in a format every tag container accepts. JPEG
// and PNG pass through untouched; WebP is re-encoded as JPEG.
func Normalize(data []byte) ([]byte, string, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, "", err
	}
	if format != FormatWebP {
		return data, format, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding webp: %w", err)
	}
	out, err := encode(img, FormatJPEG, 90)
	if err != nil {
		return nil, "", err
	}
	return out, FormatJPEG, nil
}

// Resize scales data to fit within maxEdge x maxEdge, preserving the
// aspect ratio. Images that already fit are returned as-is.
func Resize(data []byte, maxEdge int) ([]byte, string, error) {
	data, format, err := Normalize(data)
	if err != nil {
		return nil, "", err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image config: %w", err)
	}
	newW, newH := fitDimensions(cfg.Width, cfg.Height, maxEdge, maxEdge)
	if newW == cfg.Width && newH == cfg.Height {
		return data, format, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	out, err := encode(dst, format, 90)
	if err != nil {
		return nil, "", err
	}
	return out, format, nil
}

// Dimensions decodes only the image header.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func fitDimensions(origW, origH, maxW, maxH int) (int, int) {
	if origW <= maxW && origH <= maxH {
		return origW, origH
	}

	ratio := math.Min(float64(maxW)/float64(origW), float64(maxH)/float64(origH))
	newW := int(math.Round(float64(origW) * ratio))
	newH := int(math.Round(float64(origH) * ratio))
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return newW, newH
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}

func extension(format string) string {
	if format == FormatPNG {
		return ".png"
	}
	return ".jpg"
}
