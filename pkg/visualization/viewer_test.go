package visualization

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/nfnt/resize"

	"spectralpca/internal/models"
)

// createTestRaster fills a width×height×bands raster with a gradient per band
func createTestRaster(width, height, bands int, scale float64) *models.RasterImage {
	img := models.NewRasterImage(width, height, bands)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for b := 0; b < bands; b++ {
				img.Set(x, y, b, scale*float64(x+y*(b+1)))
			}
		}
	}
	return img
}

func createTestComponent(width, height int) *models.ComponentImage {
	c := &models.ComponentImage{Data: make([]float64, width*height), Width: width, Height: height}
	for i := range c.Data {
		c.Data[i] = float64(i) - 3.5
	}
	return c
}

func closeTo(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -1 && d <= 1
}

func TestViridisEndpoints(t *testing.T) {
	lo := Viridis(0)
	if !closeTo(lo.R, 0x44) || !closeTo(lo.G, 0x01) || !closeTo(lo.B, 0x54) {
		t.Errorf("Expected #440154 at 0, got %v", lo)
	}
	hi := Viridis(1)
	if !closeTo(hi.R, 0xfd) || !closeTo(hi.G, 0xe7) || !closeTo(hi.B, 0x25) {
		t.Errorf("Expected #fde725 at 1, got %v", hi)
	}
	if Viridis(-3) != lo || Viridis(7) != hi {
		t.Error("Values outside [0,1] should clamp")
	}
}

func TestPreviewImageRGB(t *testing.T) {
	img := createTestRaster(4, 3, 5, 10)
	preview := NewViewer(img, createTestComponent(4, 3), 64).PreviewImage()

	rgba, ok := preview.(*image.RGBA)
	if !ok {
		t.Fatalf("Expected an RGB preview for 5 bands, got %T", preview)
	}
	// values are within 8-bit range, so shown unchanged
	if c := rgba.RGBAAt(3, 2); c.R != uint8(img.At(3, 2, 0)) || c.G != uint8(img.At(3, 2, 1)) || c.B != uint8(img.At(3, 2, 2)) {
		t.Errorf("Unexpected preview pixel %v", c)
	}
}

func TestPreviewImageGrayStretch(t *testing.T) {
	img := createTestRaster(4, 4, 2, 1000)
	preview := NewViewer(img, createTestComponent(4, 4), 64).PreviewImage()

	gray, ok := preview.(*image.Gray)
	if !ok {
		t.Fatalf("Expected a gray preview for 2 bands, got %T", preview)
	}
	if gray.GrayAt(0, 0).Y != 0 {
		t.Errorf("Expected minimum to map to 0, got %d", gray.GrayAt(0, 0).Y)
	}
	if gray.GrayAt(3, 3).Y != 255 {
		t.Errorf("Expected maximum to map to 255, got %d", gray.GrayAt(3, 3).Y)
	}
}

func TestComponentColorImage(t *testing.T) {
	comp := createTestComponent(4, 2)
	out := NewViewer(createTestRaster(4, 2, 3, 1), comp, 32).ComponentColorImage()

	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 2 {
		t.Fatalf("Expected 4x2 image, got %v", out.Bounds())
	}
	if got := color.RGBAModel.Convert(out.At(0, 0)); got != Viridis(0) {
		t.Errorf("Expected minimum colour %v, got %v", Viridis(0), got)
	}
	if got := color.RGBAModel.Convert(out.At(3, 1)); got != Viridis(1) {
		t.Errorf("Expected maximum colour %v, got %v", Viridis(1), got)
	}

	flat := &models.ComponentImage{Data: make([]float64, 4), Width: 2, Height: 2}
	fo := NewViewer(createTestRaster(2, 2, 3, 1), flat, 32).ComponentColorImage()
	if got := color.RGBAModel.Convert(fo.At(1, 1)); got != Viridis(0) {
		t.Errorf("Constant component should map to the low end, got %v", got)
	}
}

func TestSaveFigure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "figures", "pc1.png")

	v := NewViewer(createTestRaster(10, 6, 3, 5), createTestComponent(10, 6), 48)
	if err := v.SaveFigure(path); err != nil {
		t.Fatalf("Failed to save figure: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Figure not written: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Figure is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() <= 2*48 || img.Bounds().Dy() <= 48 {
		t.Errorf("Figure too small for two 48px panels: %v", img.Bounds())
	}
}

func TestRenderFigureWithoutResult(t *testing.T) {
	if _, err := NewViewer(nil, nil, 32).RenderFigure(); err == nil {
		t.Error("Expected an error when there is nothing to render")
	}
}

func TestFitPanelKeepsAspect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 10))
	out := fitPanel(src, 100, resize.Bilinear)
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 50 {
		t.Errorf("Expected 100x50, got %v", out.Bounds())
	}
}
