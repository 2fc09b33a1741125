package loader

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"spectralpca/internal/models"
)

// GenericDecoder decodes any format registered with the image package and
// converts the result to a band array. Gray images become band-less (H×W),
// opaque colour images become 3 bands and images carrying alpha 4 bands.
// Gray with alpha decodes to NRGBA in the image package, so it is read as
// 4 bands.
type GenericDecoder struct{}

// Name implements Decoder
func (d *GenericDecoder) Name() string { return "generic" }

// Decode implements Decoder
func (d *GenericDecoder) Decode(path string) (*models.RasterImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Check the header before decoding allocates the pixel buffer
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("image decode: %w", err)
	}
	if err := checkSize(cfg.Width, cfg.Height, 4); err != nil {
		return nil, fmt.Errorf("%s image: %w", format, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("image decode: %w", err)
	}

	r := FromImage(img)
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%s image: %w", format, err)
	}
	return r, nil
}

// FromImage converts a decoded Go image into a RasterImage
func FromImage(img image.Image) *models.RasterImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var r *models.RasterImage
	switch src := img.(type) {
	case *image.Gray:
		r = models.NewRasterImage(w, h, 1)
		r.Is2D = true
		eachPixel(b, func(x, y, i int) {
			r.Data[i] = float64(src.GrayAt(x, y).Y)
		})

	case *image.Gray16:
		r = models.NewRasterImage(w, h, 1)
		r.Is2D = true
		eachPixel(b, func(x, y, i int) {
			r.Data[i] = float64(src.Gray16At(x, y).Y)
		})

	case *image.YCbCr:
		r = nrgbaBands(img, 3)

	// premultiplied images, e.g. associated-alpha TIFFs, keep alpha unless opaque
	case *image.RGBA:
		r = nrgbaBands(img, alphaBands(src.Opaque()))

	case *image.RGBA64:
		r = nrgba64Bands(img, alphaBands(src.Opaque()))

	case *image.NRGBA64:
		r = nrgba64Bands(img, 4)

	case *image.CMYK:
		r = models.NewRasterImage(w, h, 4)
		eachPixel(b, func(x, y, i int) {
			c := src.CMYKAt(x, y)
			setBands(r.Data[i*4:(i+1)*4], float64(c.C), float64(c.M), float64(c.Y), float64(c.K))
		})

	case *image.Paletted:
		r = nrgbaBands(img, alphaBands(!hasTransparency(src.Palette)))

	case *image.NYCbCrA:
		r = nrgbaBands(img, alphaBands(src.Opaque()))

	default:
		r = nrgbaBands(img, 4)
	}
	return r
}

func alphaBands(opaque bool) int {
	if opaque {
		return 3
	}
	return 4
}

// nrgbaBands converts to non-premultiplied 8-bit samples, bands is 3 (RGB) or 4 (RGBA)
func nrgbaBands(img image.Image, bands int) *models.RasterImage {
	b := img.Bounds()
	r := models.NewRasterImage(b.Dx(), b.Dy(), bands)
	eachPixel(b, func(x, y, i int) {
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		setBands(r.Data[i*bands:(i+1)*bands], float64(c.R), float64(c.G), float64(c.B), float64(c.A))
	})
	return r
}

// nrgba64Bands is nrgbaBands with 16-bit samples
func nrgba64Bands(img image.Image, bands int) *models.RasterImage {
	b := img.Bounds()
	r := models.NewRasterImage(b.Dx(), b.Dy(), bands)
	eachPixel(b, func(x, y, i int) {
		c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
		setBands(r.Data[i*bands:(i+1)*bands], float64(c.R), float64(c.G), float64(c.B), float64(c.A))
	})
	return r
}

// eachPixel visits the bounds in row-major order, i is the zero-based pixel index
func eachPixel(b image.Rectangle, fn func(x, y, i int)) {
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			fn(x, y, i)
			i++
		}
	}
}

// setBands copies as many values as dst holds
func setBands(dst []float64, vals ...float64) {
	n := len(vals)
	if len(dst) < n {
		n = len(dst)
	}
	copy(dst[:n], vals)
}

func hasTransparency(p color.Palette) bool {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			return true
		}
	}
	return false
}
