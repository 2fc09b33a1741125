// Package visualization renders analysis results as images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"spectralpca/internal/models"
)

const (
	margin        = 24
	titleHeight   = 32
	colorBarWidth = 18
	colorBarTicks = 5
)

// viridis colour map sampled at 0, 0.1, ..., 1
var viridisStops = []string{
	"#440154", "#482475", "#414487", "#355f8d", "#2a788e", "#21918c",
	"#22a884", "#44bf70", "#7ad151", "#bddf26", "#fde725",
}

var viridis = func() []colorful.Color {
	stops := make([]colorful.Color, len(viridisStops))
	for i, hex := range viridisStops {
		c, err := colorful.Hex(hex)
		if err != nil {
			panic(err)
		}
		stops[i] = c
	}
	return stops
}()

// Viridis maps t in [0, 1] onto the viridis colour map, values outside are clamped
func Viridis(t float64) color.RGBA {
	if math.IsNaN(t) || t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	pos := t * float64(len(viridis)-1)
	i := int(pos)
	if i >= len(viridis)-1 {
		i = len(viridis) - 2
	}
	c := viridis[i].BlendLab(viridis[i+1], pos-float64(i)).Clamped()
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Viewer renders the original raster next to its first principal component
type Viewer struct {
	image     *models.RasterImage
	component *models.ComponentImage

	// panelSize is the edge length in pixels of each image panel
	panelSize int
}

// NewViewer creates a viewer for one analysis result
func NewViewer(img *models.RasterImage, component *models.ComponentImage, panelSize int) *Viewer {
	if panelSize < 16 {
		panelSize = 16
	}
	return &Viewer{
		image:     img,
		component: component,
		panelSize: panelSize,
	}
}

// PreviewImage returns the display preview of the original raster: the first
// three bands as RGB when there are at least three, otherwise the first
// band in gray. 8-bit data is shown as is, other ranges are stretched.
func (v *Viewer) PreviewImage() image.Image {
	img := v.image
	w, h := img.Width, img.Height

	if img.Bands >= 3 {
		lo, hi := sampleRange(img, 3)
		if lo >= 0 && hi <= 255 {
			lo, hi = 0, 255
		}
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.SetRGBA(x, y, color.RGBA{
					R: stretch(img.At(x, y, 0), lo, hi),
					G: stretch(img.At(x, y, 1), lo, hi),
					B: stretch(img.At(x, y, 2), lo, hi),
					A: 255,
				})
			}
		}
		return out
	}

	lo, hi := sampleRange(img, 1)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetGray(x, y, color.Gray{Y: stretch(img.At(x, y, 0), lo, hi)})
		}
	}
	return out
}

// ComponentColorImage maps the component image onto the viridis colour map
func (v *Viewer) ComponentColorImage() image.Image {
	c := v.component
	lo, hi := c.MinMax()
	out := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			t := 0.0
			if hi > lo {
				t = (c.At(x, y) - lo) / (hi - lo)
			}
			out.SetRGBA(x, y, Viridis(t))
		}
	}
	return out
}

// RenderFigure draws both panels with titles and a colour bar for PC1
func (v *Viewer) RenderFigure() (image.Image, error) {
	if v.image == nil || v.component == nil {
		return nil, fmt.Errorf("viewer has no result to render")
	}

	face, err := loadFace(14)
	if err != nil {
		return nil, err
	}

	p := v.panelSize
	width := margin + p + margin + p + margin/2 + colorBarWidth + 64
	height := titleHeight + p + margin

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)

	left := float64(margin)
	right := float64(margin + p + margin)
	top := float64(titleHeight)

	dc.DrawStringAnchored("Original (RGB/Preview)", left+float64(p)/2, top/2, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("PCA Result (PC%d)", v.component.Component+1), right+float64(p)/2, top/2, 0.5, 0.5)

	preview := fitPanel(v.PreviewImage(), p, resize.Bilinear)
	pb := preview.Bounds()
	dc.DrawImage(preview, int(left)+(p-pb.Dx())/2, int(top)+(p-pb.Dy())/2)

	pc := fitPanel(v.ComponentColorImage(), p, resize.NearestNeighbor)
	cb := pc.Bounds()
	dc.DrawImage(pc, int(right)+(p-cb.Dx())/2, int(top)+(p-cb.Dy())/2)

	v.drawColorBar(dc, right+float64(p+margin/2), top, float64(p))

	return dc.Image(), nil
}

// SaveFigure renders the figure and writes it as PNG
func (v *Viewer) SaveFigure(filename string) error {
	img, err := v.RenderFigure()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	return gg.SavePNG(filename, img)
}

func (v *Viewer) drawColorBar(dc *gg.Context, x, y, h float64) {
	lo, hi := v.component.MinMax()

	steps := int(h)
	for i := 0; i < steps; i++ {
		c := Viridis(1 - float64(i)/float64(steps-1))
		dc.SetColor(c)
		dc.DrawRectangle(x, y+float64(i), colorBarWidth, 1)
		dc.Fill()
	}
	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x, y, colorBarWidth, h)
	dc.Stroke()

	for i := 0; i < colorBarTicks; i++ {
		frac := float64(i) / float64(colorBarTicks-1)
		ty := y + h - frac*h
		dc.DrawLine(x+colorBarWidth, ty, x+colorBarWidth+4, ty)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprintf("%.2f", lo+frac*(hi-lo)), x+colorBarWidth+6, ty, 0, 0.5)
	}
}

// fitPanel scales img to fit a size×size panel keeping its aspect ratio
func fitPanel(img image.Image, size int, interp resize.InterpolationFunction) image.Image {
	b := img.Bounds()
	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	w := uint(math.Max(1, math.Round(float64(b.Dx())*scale)))
	h := uint(math.Max(1, math.Round(float64(b.Dy())*scale)))
	if scale > 1 {
		interp = resize.NearestNeighbor
	}
	return resize.Resize(w, h, img, interp)
}

func loadFace(size float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}

// sampleRange returns the minimum and maximum over the first n bands
func sampleRange(img *models.RasterImage, n int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < img.Pixels(); i++ {
		for b := 0; b < n; b++ {
			v := img.Data[i*img.Bands+b]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}

func stretch(v, lo, hi float64) uint8 {
	if hi <= lo {
		return 0
	}
	t := (v - lo) / (hi - lo) * 255
	return uint8(math.Max(0, math.Min(255, math.Round(t))))
}
