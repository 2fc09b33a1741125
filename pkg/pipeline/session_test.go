package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"spectralpca/internal/models"
	"spectralpca/pkg/logging"
	"spectralpca/pkg/spectral"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// createTestImage writes an RGB PNG whose bands are linear in x and y
func createTestImage(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(10 * x), G: uint8(10*x + 5*y), B: uint8(3 * y), A: 255})
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("rgb_%dx%d.png", width, height))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return path
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(&Params{MaxComponents: 10, NormalizeSigns: true, StackPages: true})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return s
}

func rasterFrom(width, height, bands int, is2D bool, data []float64) *models.RasterImage {
	return &models.RasterImage{Data: data, Width: width, Height: height, Bands: bands, Is2D: is2D}
}

func TestSessionStateSequence(t *testing.T) {
	path := createTestImage(t, t.TempDir(), 8, 6)
	s := newTestSession(t)

	if s.State() != Idle {
		t.Fatalf("Expected initial state idle, got %s", s.State())
	}

	var seen []State
	s.OnStateChange = func(from, to State) { seen = append(seen, to) }

	res, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []State{Loading, Reshaping, Computing, Ready}
	if len(seen) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}

	if res.Component.Width != 8 || res.Component.Height != 6 {
		t.Errorf("Expected 8x6 component image, got %dx%d", res.Component.Width, res.Component.Height)
	}
	if len(res.Table) != 3 {
		t.Errorf("Expected 3 table rows for an RGB image, got %d", len(res.Table))
	}
	if res.Warning != nil {
		t.Errorf("RGB input should not warn, got %s", res.Warning)
	}
	if s.Current() != res {
		t.Error("Session should hold the latest result")
	}
}

func TestSessionLoadFailureClearsResults(t *testing.T) {
	dir := t.TempDir()
	good := createTestImage(t, dir, 4, 4)
	s := newTestSession(t)

	if _, err := s.Load(good); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	_, err := s.Load(filepath.Join(dir, "missing.tif"))
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
	if s.State() != Failed {
		t.Errorf("Expected failed state, got %s", s.State())
	}
	if s.Current() != nil {
		t.Error("Previous results must be cleared after a failed load")
	}
	if Classify(err) != KindLoad {
		t.Errorf("Expected a load error, got %s", Classify(err))
	}
	if !errors.Is(s.Err(), err) {
		t.Errorf("Session should keep the last error")
	}
	if Message(err) == "" {
		t.Error("Expected a human-readable message")
	}

	if _, err := s.Load(good); err != nil {
		t.Fatalf("Session should recover from a failed load: %v", err)
	}
	if s.State() != Ready {
		t.Errorf("Expected ready state, got %s", s.State())
	}
}

func TestAnalyzeSingleBandWarns(t *testing.T) {
	s := newTestSession(t)
	img := rasterFrom(3, 2, 1, true, []float64{1, 5, 2, 8, 3, 9})

	res, err := s.Analyze(img)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Warning == nil {
		t.Error("Expected a shape warning for single-band input")
	}
	if len(res.Table) != 1 {
		t.Fatalf("Expected 1 component, got %d", len(res.Table))
	}
	if math.Abs(res.Table[0].RatioPercent-100) > 1e-9 {
		t.Errorf("Expected ratio 100, got %f", res.Table[0].RatioPercent)
	}
	if Classify(nil) != KindNone {
		t.Error("A warning is not an error")
	}
}

func TestAnalyzeConstantBands(t *testing.T) {
	data := make([]float64, 4*4*3)
	for i := range data {
		data[i] = 5
	}
	res, err := newTestSession(t).Analyze(rasterFrom(4, 4, 3, false, data))
	if err != nil {
		t.Fatalf("Constant image must not fail: %v", err)
	}
	if len(res.Table) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(res.Table))
	}
	for i, row := range res.Table {
		if math.Abs(row.Variance) > 1e-12 || row.RatioPercent != 0 || row.StdDev != 0 {
			t.Errorf("Row %d should be all zero, got %+v", i, row)
		}
	}
}

func TestAnalyzeCorrelatedBands(t *testing.T) {
	img := rasterFrom(2, 2, 2, false, []float64{0, 0, 1, 1, 2, 2, 3, 3})
	res, err := newTestSession(t).Analyze(img)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(res.Table) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(res.Table))
	}
	if math.Abs(res.Table[0].RatioPercent-100) > 1e-6 || math.Abs(res.Table[1].RatioPercent) > 1e-6 {
		t.Errorf("Expected ratios 100/0, got %f/%f", res.Table[0].RatioPercent, res.Table[1].RatioPercent)
	}
	for i, row := range res.Table {
		if math.Abs(row.StdDev-math.Sqrt(math.Max(row.Variance, 0))) > 1e-12 {
			t.Errorf("Row %d: std dev %f is not sqrt of variance %f", i, row.StdDev, row.Variance)
		}
	}
}

func TestComponentImageRoundTrip(t *testing.T) {
	const w, h, k = 5, 3, 4
	data := make([]float64, w*h*k)
	for i := range data {
		data[i] = math.Sin(float64(i)) * float64(i%7)
	}
	img := rasterFrom(w, h, k, false, data)

	pixels, _, err := spectral.PixelMatrix(img)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := pixels.Dims(); r != w*h || c != k {
		t.Fatalf("Expected %dx%d pixel matrix, got %dx%d", w*h, k, r, c)
	}

	res, err := newTestSession(t).Analyze(img)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	scores := mat.Col(nil, 0, res.PCA.Scores)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if got := res.Component.At(x, y); got != scores[y*w+x] {
				t.Errorf("Pixel (%d,%d): expected %f, got %f", x, y, scores[y*w+x], got)
			}
		}
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	path := createTestImage(t, t.TempDir(), 7, 5)

	a, err := newTestSession(t).Load(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newTestSession(t).Load(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := range a.Table {
		if a.Table[i] != b.Table[i] {
			t.Errorf("Row %d differs: %+v vs %+v", i, a.Table[i], b.Table[i])
		}
	}
	for i := range a.Component.Data {
		if a.Component.Data[i] != b.Component.Data[i] {
			t.Fatalf("Component pixel %d differs", i)
		}
	}
}

func TestAnalyzeRejectsInvalidRaster(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Analyze(rasterFrom(2, 2, 3, false, make([]float64, 5)))
	if err == nil {
		t.Fatal("Expected an error for a buffer that does not match the shape")
	}
	if s.State() != Failed {
		t.Errorf("Expected failed state, got %s", s.State())
	}
	if Classify(err) != KindShape {
		t.Errorf("Expected a shape error, got %s", Classify(err))
	}
	if msg := Message(err); !strings.HasPrefix(msg, "The image cannot be analysed") {
		t.Errorf("Unexpected message %q", msg)
	}
}

// writeHugePNG writes a PNG header declaring a 2^20 x 2^20 RGB image with no pixel data
func writeHugePNG(t *testing.T, dir string) string {
	t.Helper()
	chunk := func(typ string, data []byte) []byte {
		out := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
		out = append(out, typ...)
		out = append(out, data...)
		return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[4:]))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 1<<20)
	binary.BigEndian.PutUint32(ihdr[4:], 1<<20)
	ihdr[8], ihdr[9] = 8, 2

	data := append([]byte("\x89PNG\r\n\x1a\n"), chunk("IHDR", ihdr)...)
	data = append(data, chunk("IEND", nil)...)
	path := filepath.Join(dir, "huge.png")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSessionOversizedImageFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t)

	_, err := s.Load(writeHugePNG(t, dir))
	if Classify(err) != KindLoad {
		t.Fatalf("Expected a load error, got %v", err)
	}
	if s.State() != Failed {
		t.Errorf("Expected failed state, got %s", s.State())
	}

	if _, err := s.Load(createTestImage(t, dir, 3, 3)); err != nil {
		t.Fatalf("Session should accept the next load: %v", err)
	}
	if s.State() != Ready {
		t.Errorf("Expected ready state, got %s", s.State())
	}
}

func TestAnalyzeLogsBandMeans(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(io.Discard)

	img := rasterFrom(2, 1, 2, false, []float64{1, 10, 3, 30})
	if _, err := newTestSession(t).Analyze(img); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "DEBUG: band 0 mean 2.0000") || !strings.Contains(out, "DEBUG: band 1 mean 20.0000") {
		t.Errorf("Expected per-band means in the debug log, got:\n%s", out)
	}
}

func TestMaxComponentsApplied(t *testing.T) {
	const bands = 12
	data := make([]float64, 6*6*bands)
	for i := range data {
		data[i] = float64((i * 31) % 17)
	}
	s, err := NewSession(&Params{MaxComponents: 4})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Analyze(rasterFrom(6, 6, bands, false, data))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(res.Table) != 4 {
		t.Errorf("Expected 4 rows, got %d", len(res.Table))
	}
}

func TestNewSessionUnknownDecoder(t *testing.T) {
	if _, err := NewSession(&Params{Decoders: []string{"jp2"}}); err == nil {
		t.Error("Expected an error for an unknown decoder")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{Idle, Loading, true},
		{Idle, Ready, false},
		{Loading, Reshaping, true},
		{Reshaping, Computing, true},
		{Computing, Ready, true},
		{Ready, Loading, true},
		{Failed, Loading, true},
		{Computing, Failed, true},
		{Ready, Computing, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestClassifyConsistencyError(t *testing.T) {
	_, err := spectral.ComponentImage(mat.NewDense(5, 1, nil), 2, 2)
	if Classify(err) != KindConsistency {
		t.Errorf("Expected consistency error, got %s", Classify(err))
	}
	if Classify(fmt.Errorf("wrapped: %w", err)) != KindConsistency {
		t.Error("Wrapped consistency errors should classify the same")
	}
	if Classify(errors.New("boom")) != KindCompute {
		t.Error("Unknown errors should classify as compute errors")
	}
}
