package loader

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff/lzw"

	"spectralpca/internal/models"
)

// TIFF tags read by the multi-band decoder
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagSampleFormat    = 339
)

const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionDeflate2 = 32946

	photometricPalette = 3

	sampleUnsigned = 1
	sampleSigned   = 2
	sampleFloat    = 3

	maxPages = 4096
)

var errNotTIFF = errors.New("not a TIFF file")

// TIFFDecoder reads baseline strip TIFFs with any number of samples per
// pixel, which the generic image decoders cannot represent. Tiled,
// JPEG-compressed and palette images are rejected so that the next
// decoder in the chain can take over.
type TIFFDecoder struct {
	// StackPages turns a multi-page file whose pages are all single
	// sample and the same size into one image with a band per page
	StackPages bool
}

// Name implements Decoder
func (d *TIFFDecoder) Name() string { return "tiff" }

// Decode implements Decoder
func (d *TIFFDecoder) Decode(path string) (*models.RasterImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return d.DecodeBytes(data)
}

// tiffPage holds the subset of IFD fields the decoder understands
type tiffPage struct {
	width, height   int
	samples         int
	bits            int
	sampleFormat    int
	compression     int
	photometric     int
	predictor       int
	planar          int
	rowsPerStrip    int
	stripOffsets    []uint64
	stripByteCounts []uint64
	tiled           bool
}

// DecodeBytes decodes an in-memory TIFF file
func (d *TIFFDecoder) DecodeBytes(data []byte) (*models.RasterImage, error) {
	bo, pages, err := readIFDs(data)
	if err != nil {
		return nil, err
	}

	if d.StackPages && len(pages) > 1 && stackable(pages) {
		first := pages[0]
		if err := checkSize(first.width, first.height, len(pages)); err != nil {
			return nil, err
		}
		img := models.NewRasterImage(first.width, first.height, len(pages))
		for b, p := range pages {
			samples, err := decodePage(data, bo, p)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", b, err)
			}
			for i, v := range samples {
				img.Set(i%first.width, i/first.width, b, v)
			}
		}
		return img, nil
	}

	p := pages[0]
	samples, err := decodePage(data, bo, p)
	if err != nil {
		return nil, err
	}
	img := &models.RasterImage{
		Data:   samples,
		Width:  p.width,
		Height: p.height,
		Bands:  p.samples,
		Is2D:   p.samples == 1,
	}
	return img, nil
}

func stackable(pages []tiffPage) bool {
	for _, p := range pages {
		if p.samples != 1 || p.width != pages[0].width || p.height != pages[0].height {
			return false
		}
	}
	return true
}

func readIFDs(data []byte) (binary.ByteOrder, []tiffPage, error) {
	if len(data) < 8 {
		return nil, nil, errNotTIFF
	}

	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, nil, errNotTIFF
	}
	switch bo.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, nil, errors.New("BigTIFF is not supported")
	default:
		return nil, nil, errNotTIFF
	}

	var pages []tiffPage
	seen := map[uint32]bool{}
	offset := bo.Uint32(data[4:8])
	for offset != 0 {
		if seen[offset] {
			return nil, nil, errors.New("IFD chain loops")
		}
		if len(pages) >= maxPages {
			return nil, nil, fmt.Errorf("more than %d pages", maxPages)
		}
		seen[offset] = true

		p, next, err := readIFD(data, bo, offset)
		if err != nil {
			return nil, nil, fmt.Errorf("IFD %d: %w", len(pages), err)
		}
		pages = append(pages, p)
		offset = next
	}
	if len(pages) == 0 {
		return nil, nil, errors.New("no image directories")
	}
	return bo, pages, nil
}

// fieldSize returns the byte size of one value of a TIFF field type
func fieldSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7:
		return 1
	case 3, 8:
		return 2
	case 4, 9, 11:
		return 4
	case 5, 10, 12:
		return 8
	}
	return 0
}

func readIFD(data []byte, bo binary.ByteOrder, offset uint32) (tiffPage, uint32, error) {
	p := tiffPage{
		samples:      1,
		bits:         1,
		sampleFormat: sampleUnsigned,
		compression:  compressionNone,
		predictor:    1,
		planar:       1,
	}

	off := int(offset)
	if off+2 > len(data) {
		return p, 0, errors.New("IFD offset out of range")
	}
	n := int(bo.Uint16(data[off:]))
	end := off + 2 + n*12
	if end+4 > len(data) {
		return p, 0, errors.New("IFD truncated")
	}

	var bits, formats []uint64
	for i := 0; i < n; i++ {
		e := data[off+2+i*12 : off+2+(i+1)*12]
		tag := bo.Uint16(e[0:2])
		typ := bo.Uint16(e[2:4])
		count := int(bo.Uint32(e[4:8]))

		vals, err := fieldValues(data, bo, e, typ, count)
		if err != nil {
			return p, 0, fmt.Errorf("tag %d: %w", tag, err)
		}
		if len(vals) == 0 {
			continue
		}

		switch tag {
		case tagImageWidth:
			p.width = int(vals[0])
		case tagImageLength:
			p.height = int(vals[0])
		case tagBitsPerSample:
			bits = vals
		case tagCompression:
			p.compression = int(vals[0])
		case tagPhotometric:
			p.photometric = int(vals[0])
		case tagStripOffsets:
			p.stripOffsets = vals
		case tagSamplesPerPixel:
			p.samples = int(vals[0])
		case tagRowsPerStrip:
			p.rowsPerStrip = int(vals[0])
		case tagStripByteCounts:
			p.stripByteCounts = vals
		case tagPlanarConfig:
			p.planar = int(vals[0])
		case tagPredictor:
			p.predictor = int(vals[0])
		case tagTileWidth:
			p.tiled = true
		case tagSampleFormat:
			formats = vals
		}
	}

	if len(bits) > 0 {
		p.bits = int(bits[0])
		for _, b := range bits {
			if int(b) != p.bits {
				return p, 0, fmt.Errorf("mixed bits per sample %v", bits)
			}
		}
	}
	if len(formats) > 0 {
		p.sampleFormat = int(formats[0])
		for _, f := range formats {
			if int(f) != p.sampleFormat {
				return p, 0, fmt.Errorf("mixed sample formats %v", formats)
			}
		}
	}
	if p.rowsPerStrip <= 0 || p.rowsPerStrip > p.height {
		p.rowsPerStrip = p.height
	}

	return p, bo.Uint32(data[end:]), nil
}

func fieldValues(data []byte, bo binary.ByteOrder, entry []byte, typ uint16, count int) ([]uint64, error) {
	size := fieldSize(typ)
	if size == 0 || count <= 0 {
		return nil, nil
	}
	total := size * count
	raw := entry[8:12]
	if total > 4 {
		off := int(bo.Uint32(entry[8:12]))
		if off < 0 || off+total > len(data) {
			return nil, errors.New("value offset out of range")
		}
		raw = data[off : off+total]
	}

	// Only integer typed fields carry the values read above.
	vals := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		switch typ {
		case 1, 7:
			vals = append(vals, uint64(raw[i]))
		case 3:
			vals = append(vals, uint64(bo.Uint16(raw[i*2:])))
		case 4:
			vals = append(vals, uint64(bo.Uint32(raw[i*4:])))
		default:
			return nil, nil
		}
	}
	return vals, nil
}

func (p tiffPage) check() error {
	switch {
	case p.width < 1 || p.height < 1:
		return fmt.Errorf("invalid dimensions %dx%d", p.width, p.height)
	case p.samples < 1:
		return fmt.Errorf("invalid samples per pixel %d", p.samples)
	case p.tiled:
		return errors.New("tiled TIFF is not supported")
	case p.photometric == photometricPalette:
		return errors.New("palette TIFF is not supported")
	case p.planar != 1 && p.planar != 2:
		return fmt.Errorf("unsupported planar configuration %d", p.planar)
	case p.predictor != 1 && p.predictor != 2:
		return fmt.Errorf("unsupported predictor %d", p.predictor)
	case len(p.stripOffsets) == 0 || len(p.stripOffsets) != len(p.stripByteCounts):
		return errors.New("missing or inconsistent strip tables")
	}

	switch p.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflate2, compressionPackBits:
	default:
		return fmt.Errorf("unsupported compression %d", p.compression)
	}

	switch p.sampleFormat {
	case sampleUnsigned, sampleSigned:
		if p.bits != 8 && p.bits != 16 && p.bits != 32 && p.bits != 64 {
			return fmt.Errorf("unsupported integer sample size %d", p.bits)
		}
	case sampleFloat:
		if p.bits != 32 && p.bits != 64 {
			return fmt.Errorf("unsupported float sample size %d", p.bits)
		}
		if p.predictor != 1 {
			return errors.New("predictor on float samples is not supported")
		}
	default:
		return fmt.Errorf("unsupported sample format %d", p.sampleFormat)
	}
	return checkSize(p.width, p.height, p.samples)
}

// decodePage returns the page samples pixel-interleaved in row-major order
func decodePage(data []byte, bo binary.ByteOrder, p tiffPage) ([]float64, error) {
	if err := p.check(); err != nil {
		return nil, err
	}

	bytesPerSample := p.bits / 8
	stripsPerPlane := (p.height + p.rowsPerStrip - 1) / p.rowsPerStrip
	planes, samplesPerStrip := 1, p.samples
	if p.planar == 2 {
		planes, samplesPerStrip = p.samples, 1
	}
	if len(p.stripOffsets) < planes*stripsPerPlane {
		return nil, fmt.Errorf("expected %d strips, found %d", planes*stripsPerPlane, len(p.stripOffsets))
	}

	rowBytes := p.width * samplesPerStrip * bytesPerSample
	stripRows := func(s int) (y0, rows int) {
		y0 = s * p.rowsPerStrip
		rows = p.rowsPerStrip
		if y0+rows > p.height {
			rows = p.height - y0
		}
		return y0, rows
	}

	// strip tables must fit the file before the sample buffer is allocated
	for idx := 0; idx < planes*stripsPerPlane; idx++ {
		off, n := p.stripOffsets[idx], p.stripByteCounts[idx]
		if off+n > uint64(len(data)) {
			return nil, fmt.Errorf("strip %d out of range", idx)
		}
		_, rows := stripRows(idx % stripsPerPlane)
		if p.compression == compressionNone && n < uint64(rows*rowBytes) {
			return nil, fmt.Errorf("strip %d holds %d bytes, %d rows need %d", idx, n, rows, rows*rowBytes)
		}
	}

	out := make([]float64, p.width*p.height*p.samples)

	for plane := 0; plane < planes; plane++ {
		for s := 0; s < stripsPerPlane; s++ {
			idx := plane*stripsPerPlane + s
			off, n := p.stripOffsets[idx], p.stripByteCounts[idx]
			y0, rows := stripRows(s)

			buf, err := decompress(data[off:off+n], p.compression, rows*rowBytes)
			if err != nil {
				return nil, fmt.Errorf("strip %d: %w", idx, err)
			}
			if p.predictor == 2 {
				undoHorizontalPredictor(buf, bo, rowBytes, samplesPerStrip, bytesPerSample)
			}

			for r := 0; r < rows; r++ {
				row := buf[r*rowBytes : (r+1)*rowBytes]
				for x := 0; x < p.width; x++ {
					for c := 0; c < samplesPerStrip; c++ {
						si := (x*samplesPerStrip + c) * bytesPerSample
						band := c
						if p.planar == 2 {
							band = plane
						}
						out[((y0+r)*p.width+x)*p.samples+band] = sampleValue(row[si:si+bytesPerSample], bo, p.sampleFormat)
					}
				}
			}
		}
	}
	return out, nil
}

func decompress(src []byte, compression, want int) ([]byte, error) {
	var r io.Reader
	switch compression {
	case compressionNone:
		if len(src) < want {
			return nil, io.ErrUnexpectedEOF
		}
		// the predictor works in place, so never hand back the file buffer
		buf := make([]byte, want)
		copy(buf, src)
		return buf, nil
	case compressionPackBits:
		return unpackBits(src, want)
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
		defer lr.Close()
		r = lr
	case compressionDeflate, compressionDeflate2:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported compression %d", compression)
	}

	buf := make([]byte, want)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// unpackBits expands Apple PackBits run-length data
func unpackBits(src []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for i := 0; i < len(src) && len(out) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, io.ErrUnexpectedEOF
			}
			out = append(out, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, io.ErrUnexpectedEOF
			}
			for j := 0; j < 1-n; j++ {
				out = append(out, src[i])
			}
			i++
		}
	}
	if len(out) < want {
		return nil, io.ErrUnexpectedEOF
	}
	return out[:want], nil
}

func undoHorizontalPredictor(buf []byte, bo binary.ByteOrder, rowBytes, samples, bytesPerSample int) {
	stride := samples * bytesPerSample
	for r := 0; r+rowBytes <= len(buf); r += rowBytes {
		row := buf[r : r+rowBytes]
		for i := stride; i+bytesPerSample <= len(row); i += bytesPerSample {
			prev := row[i-stride:]
			cur := row[i:]
			switch bytesPerSample {
			case 1:
				cur[0] += prev[0]
			case 2:
				bo.PutUint16(cur, bo.Uint16(cur)+bo.Uint16(prev))
			case 4:
				bo.PutUint32(cur, bo.Uint32(cur)+bo.Uint32(prev))
			case 8:
				bo.PutUint64(cur, bo.Uint64(cur)+bo.Uint64(prev))
			}
		}
	}
}

func sampleValue(b []byte, bo binary.ByteOrder, format int) float64 {
	switch len(b) {
	case 1:
		if format == sampleSigned {
			return float64(int8(b[0]))
		}
		return float64(b[0])
	case 2:
		v := bo.Uint16(b)
		if format == sampleSigned {
			return float64(int16(v))
		}
		return float64(v)
	case 4:
		v := bo.Uint32(b)
		switch format {
		case sampleSigned:
			return float64(int32(v))
		case sampleFloat:
			return float64(math.Float32frombits(v))
		}
		return float64(v)
	case 8:
		v := bo.Uint64(b)
		switch format {
		case sampleSigned:
			return float64(int64(v))
		case sampleFloat:
			return math.Float64frombits(v)
		}
		return float64(v)
	}
	return 0
}
