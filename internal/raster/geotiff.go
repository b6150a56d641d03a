// Package raster samples georeferenced TIFF files at geographic points.
//
// The upstream satellite products are single-band, strip-organized GeoTIFFs
// (north-up, no rotation) with the value grid in uint, int or IEEE float
// samples, optionally deflate-compressed, and a GDAL_NODATA sentinel. That
// subset is decoded directly here; tiled or BigTIFF layouts are rejected.
package raster

import (
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// TIFF tag IDs used for sampling.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGDALNoData      = 42113
)

const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionOldDeflate = 32946

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// GeoTIFF samples pixel values from GeoTIFF files on disk. Stateless; one
// file handle is opened per call and released before returning.
type GeoTIFF struct{}

// Sample returns the band-0 value covering the geographic point (lon, lat).
// ok is false when the point falls outside the raster or the pixel holds the
// raster's no-data sentinel: a real gap, never to be read as zero. Errors
// (unreadable file, unsupported layout, missing georeferencing) are returned
// for the caller to log; they are not fatal to sampling other files.
func (GeoTIFF) Sample(path string, lon, lat float64) (value float64, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	tf, err := parseTIFF(f)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", path, err)
	}

	col, row, inside := tf.pixelAt(lon, lat)
	if !inside {
		return 0, false, nil
	}

	v, err := tf.readSample(f, col, row)
	if err != nil {
		return 0, false, fmt.Errorf("read pixel (%d,%d) of %s: %w", col, row, path, err)
	}

	if tf.isNoData(v) {
		return 0, false, nil
	}
	return v, true, nil
}

type tiffFile struct {
	bo              binary.ByteOrder
	width, height   int
	bits            int
	sampleFormat    int
	compression     int
	predictor       int
	samplesPerPixel int
	rowsPerStrip    int
	stripOffsets    []int64
	stripCounts     []int64
	scaleX, scaleY  float64
	originX         float64
	originY         float64
	nodata          *float64
}

type ifdEntry struct {
	typ    int
	count  int
	inline [4]byte
	offset int64
}

var typeSizes = map[int]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

func parseTIFF(r io.ReadSeeker) (*tiffFile, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}
	if magic := bo.Uint16(header[2:4]); magic != 42 {
		if magic == 43 {
			return nil, errors.New("BigTIFF not supported")
		}
		return nil, fmt.Errorf("bad TIFF magic %d", magic)
	}

	entries, err := readIFD(r, bo, int64(bo.Uint32(header[4:8])))
	if err != nil {
		return nil, err
	}
	if _, tiled := entries[tagTileWidth]; tiled {
		return nil, errors.New("tiled rasters not supported")
	}

	tf := &tiffFile{
		bo:              bo,
		sampleFormat:    sampleFormatUint,
		compression:     compressionNone,
		predictor:       1,
		samplesPerPixel: 1,
	}

	if tf.width, err = requiredInt(r, bo, entries, tagImageWidth); err != nil {
		return nil, err
	}
	if tf.height, err = requiredInt(r, bo, entries, tagImageLength); err != nil {
		return nil, err
	}
	if tf.bits, err = requiredInt(r, bo, entries, tagBitsPerSample); err != nil {
		return nil, err
	}
	if e, ok := entries[tagCompression]; ok {
		tf.compression = int(firstInt(bo, e))
	}
	if e, ok := entries[tagPredictor]; ok {
		tf.predictor = int(firstInt(bo, e))
	}
	if e, ok := entries[tagSamplesPerPixel]; ok {
		tf.samplesPerPixel = int(firstInt(bo, e))
	}
	if e, ok := entries[tagSampleFormat]; ok {
		tf.sampleFormat = int(firstInt(bo, e))
	}
	tf.rowsPerStrip = tf.height
	if e, ok := entries[tagRowsPerStrip]; ok {
		tf.rowsPerStrip = int(firstInt(bo, e))
	}

	if tf.stripOffsets, err = requiredInts(r, bo, entries, tagStripOffsets); err != nil {
		return nil, err
	}
	if tf.stripCounts, err = requiredInts(r, bo, entries, tagStripByteCounts); err != nil {
		return nil, err
	}

	scale, err := requiredDoubles(r, bo, entries, tagModelPixelScale, 3)
	if err != nil {
		return nil, err
	}
	tiepoint, err := requiredDoubles(r, bo, entries, tagModelTiepoint, 6)
	if err != nil {
		return nil, err
	}
	tf.scaleX, tf.scaleY = scale[0], scale[1]
	if tf.scaleX <= 0 || tf.scaleY <= 0 {
		return nil, fmt.Errorf("degenerate pixel scale %v x %v", tf.scaleX, tf.scaleY)
	}
	// Tiepoint maps raster (i,j) to geographic (x,y); the grid origin is the
	// outer corner of pixel (0,0) with y decreasing down the rows.
	tf.originX = tiepoint[3] - tiepoint[0]*tf.scaleX
	tf.originY = tiepoint[4] + tiepoint[1]*tf.scaleY

	if e, ok := entries[tagGDALNoData]; ok {
		s, err := readASCII(r, e)
		if err != nil {
			return nil, fmt.Errorf("read nodata tag: %w", err)
		}
		nd, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			tf.nodata = &nd
		}
	}

	switch tf.sampleFormat {
	case sampleFormatUint, sampleFormatInt:
		if tf.bits != 8 && tf.bits != 16 && tf.bits != 32 {
			return nil, fmt.Errorf("unsupported integer sample width %d", tf.bits)
		}
	case sampleFormatFloat:
		if tf.bits != 32 && tf.bits != 64 {
			return nil, fmt.Errorf("unsupported float sample width %d", tf.bits)
		}
	default:
		return nil, fmt.Errorf("unsupported sample format %d", tf.sampleFormat)
	}
	switch tf.compression {
	case compressionNone, compressionDeflate, compressionOldDeflate:
	default:
		return nil, fmt.Errorf("unsupported compression %d", tf.compression)
	}
	if tf.predictor != 1 {
		return nil, fmt.Errorf("unsupported predictor %d", tf.predictor)
	}
	if tf.rowsPerStrip <= 0 || tf.width <= 0 || tf.height <= 0 {
		return nil, errors.New("degenerate raster dimensions")
	}

	return tf, nil
}

func readIFD(r io.ReadSeeker, bo binary.ByteOrder, offset int64) (map[int]ifdEntry, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek IFD: %w", err)
	}
	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("read IFD count: %w", err)
	}
	count := int(bo.Uint16(countBuf[:]))

	raw := make([]byte, count*12)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	entries := make(map[int]ifdEntry, count)
	for i := 0; i < count; i++ {
		b := raw[i*12 : i*12+12]
		e := ifdEntry{
			typ:   int(bo.Uint16(b[2:4])),
			count: int(bo.Uint32(b[4:8])),
		}
		copy(e.inline[:], b[8:12])
		e.offset = int64(bo.Uint32(b[8:12]))
		entries[int(bo.Uint16(b[0:2]))] = e
	}
	return entries, nil
}

// valueBytes returns the entry's payload, reading from the value offset when
// it does not fit in the inline four bytes.
func valueBytes(r io.ReadSeeker, e ifdEntry) ([]byte, error) {
	size, ok := typeSizes[e.typ]
	if !ok {
		return nil, fmt.Errorf("unknown field type %d", e.typ)
	}
	total := size * e.count
	if total <= 4 {
		return e.inline[:total], nil
	}
	if _, err := r.Seek(e.offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, total)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func firstInt(bo binary.ByteOrder, e ifdEntry) int64 {
	switch e.typ {
	case 1: // BYTE
		return int64(e.inline[0])
	case 3: // SHORT
		return int64(bo.Uint16(e.inline[0:2]))
	default: // LONG
		return int64(bo.Uint32(e.inline[0:4]))
	}
}

func entryInts(r io.ReadSeeker, bo binary.ByteOrder, e ifdEntry) ([]int64, error) {
	buf, err := valueBytes(r, e)
	if err != nil {
		return nil, err
	}
	out := make([]int64, e.count)
	for i := 0; i < e.count; i++ {
		switch e.typ {
		case 1:
			out[i] = int64(buf[i])
		case 3:
			out[i] = int64(bo.Uint16(buf[i*2:]))
		case 4:
			out[i] = int64(bo.Uint32(buf[i*4:]))
		default:
			return nil, fmt.Errorf("field type %d is not integral", e.typ)
		}
	}
	return out, nil
}

func entryDoubles(r io.ReadSeeker, bo binary.ByteOrder, e ifdEntry) ([]float64, error) {
	if e.typ != 12 {
		return nil, fmt.Errorf("field type %d is not DOUBLE", e.typ)
	}
	buf, err := valueBytes(r, e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := 0; i < e.count; i++ {
		out[i] = math.Float64frombits(bo.Uint64(buf[i*8:]))
	}
	return out, nil
}

func readASCII(r io.ReadSeeker, e ifdEntry) (string, error) {
	buf, err := valueBytes(r, e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

func requiredInt(r io.ReadSeeker, bo binary.ByteOrder, entries map[int]ifdEntry, tag int) (int, error) {
	e, ok := entries[tag]
	if !ok {
		return 0, fmt.Errorf("missing required tag %d", tag)
	}
	return int(firstInt(bo, e)), nil
}

func requiredInts(r io.ReadSeeker, bo binary.ByteOrder, entries map[int]ifdEntry, tag int) ([]int64, error) {
	e, ok := entries[tag]
	if !ok {
		return nil, fmt.Errorf("missing required tag %d", tag)
	}
	return entryInts(r, bo, e)
}

func requiredDoubles(r io.ReadSeeker, bo binary.ByteOrder, entries map[int]ifdEntry, tag, want int) ([]float64, error) {
	e, ok := entries[tag]
	if !ok {
		return nil, fmt.Errorf("raster is not georeferenced: missing tag %d", tag)
	}
	vals, err := entryDoubles(r, bo, e)
	if err != nil {
		return nil, err
	}
	if len(vals) < want {
		return nil, fmt.Errorf("tag %d has %d values, want %d", tag, len(vals), want)
	}
	return vals, nil
}

// pixelAt maps a geographic point to the covering (col, row), reporting
// inside=false when the point is off the grid.
func (tf *tiffFile) pixelAt(lon, lat float64) (col, row int, inside bool) {
	col = int(math.Floor((lon - tf.originX) / tf.scaleX))
	row = int(math.Floor((tf.originY - lat) / tf.scaleY))
	if col < 0 || col >= tf.width || row < 0 || row >= tf.height {
		return 0, 0, false
	}
	return col, row, true
}

func (tf *tiffFile) readSample(r io.ReadSeeker, col, row int) (float64, error) {
	strip := row / tf.rowsPerStrip
	if strip >= len(tf.stripOffsets) || strip >= len(tf.stripCounts) {
		return 0, fmt.Errorf("strip %d out of range", strip)
	}

	bytesPerSample := tf.bits / 8
	rowInStrip := row % tf.rowsPerStrip
	// Band 0 of pixel (col,row) within the decoded strip.
	sampleOffset := (rowInStrip*tf.width + col) * tf.samplesPerPixel * bytesPerSample

	var raw []byte
	switch tf.compression {
	case compressionNone:
		raw = make([]byte, bytesPerSample)
		if _, err := r.Seek(tf.stripOffsets[strip]+int64(sampleOffset), io.SeekStart); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(r, raw); err != nil {
			return 0, err
		}
	case compressionDeflate, compressionOldDeflate:
		if _, err := r.Seek(tf.stripOffsets[strip], io.SeekStart); err != nil {
			return 0, err
		}
		zr, err := zlib.NewReader(io.LimitReader(r, tf.stripCounts[strip]))
		if err != nil {
			return 0, fmt.Errorf("open deflate strip: %w", err)
		}
		defer zr.Close()
		if _, err := io.CopyN(io.Discard, zr, int64(sampleOffset)); err != nil {
			return 0, fmt.Errorf("skip to sample: %w", err)
		}
		raw = make([]byte, bytesPerSample)
		if _, err := io.ReadFull(zr, raw); err != nil {
			return 0, fmt.Errorf("read sample: %w", err)
		}
	}

	return tf.decodeSample(raw), nil
}

func (tf *tiffFile) decodeSample(raw []byte) float64 {
	switch tf.sampleFormat {
	case sampleFormatInt:
		switch tf.bits {
		case 8:
			return float64(int8(raw[0]))
		case 16:
			return float64(int16(tf.bo.Uint16(raw)))
		default:
			return float64(int32(tf.bo.Uint32(raw)))
		}
	case sampleFormatFloat:
		if tf.bits == 32 {
			return float64(math.Float32frombits(tf.bo.Uint32(raw)))
		}
		return math.Float64frombits(tf.bo.Uint64(raw))
	default: // unsigned
		switch tf.bits {
		case 8:
			return float64(raw[0])
		case 16:
			return float64(tf.bo.Uint16(raw))
		default:
			return float64(tf.bo.Uint32(raw))
		}
	}
}

// isNoData reports whether v equals the declared no-data sentinel. A NaN
// sentinel matches NaN samples even though NaN != NaN.
func (tf *tiffFile) isNoData(v float64) bool {
	if tf.nodata == nil {
		return false
	}
	if math.IsNaN(*tf.nodata) {
		return math.IsNaN(v)
	}
	return v == *tf.nodata
}
