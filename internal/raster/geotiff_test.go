package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// testRaster describes a synthetic single-band GeoTIFF written to disk for
// sampling tests. originX/originY is the outer corner of pixel (0,0).
type testRaster struct {
	width, height    int
	values           [][]float64
	originX, originY float64
	scaleX, scaleY   float64
	nodata           string // "" omits the GDAL_NODATA tag
	format           int
	bits             int
	rowsPerStrip     int // 0 means one strip holding the whole image
	compress         bool
	bigEndian        bool
}

func defaultRaster() testRaster {
	return testRaster{
		width:  4,
		height: 4,
		values: [][]float64{
			{0, 1, 2, 3},
			{10, 11, 12, 13},
			{20, 21, 22, 23},
			{30, 31, 32, 33},
		},
		originX: 116.0,
		originY: 40.0,
		scaleX:  0.25,
		scaleY:  0.25,
		format:  sampleFormatFloat,
		bits:    32,
	}
}

func encodeSamples(t *testing.T, tr testRaster, bo binary.ByteOrder) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, row := range tr.values {
		for _, v := range row {
			switch {
			case tr.format == sampleFormatFloat && tr.bits == 32:
				binary.Write(&buf, bo, math.Float32bits(float32(v)))
			case tr.format == sampleFormatFloat && tr.bits == 64:
				binary.Write(&buf, bo, math.Float64bits(v))
			case tr.format == sampleFormatUint && tr.bits == 8:
				buf.WriteByte(byte(v))
			case tr.format == sampleFormatUint && tr.bits == 16:
				binary.Write(&buf, bo, uint16(v))
			case tr.format == sampleFormatInt && tr.bits == 16:
				binary.Write(&buf, bo, int16(v))
			default:
				t.Fatalf("unsupported test sample format %d/%d", tr.format, tr.bits)
			}
		}
	}
	return buf.Bytes()
}

type rawEntry struct {
	tag, typ int
	count    int
	value    uint32 // inline value or offset
}

// writeTestRaster builds a minimal strip-organized GeoTIFF and writes it to a
// temp file.
func writeTestRaster(t *testing.T, tr testRaster) string {
	t.Helper()

	bo := binary.ByteOrder(binary.LittleEndian)
	if tr.bigEndian {
		bo = binary.BigEndian
	}

	rowsPerStrip := tr.rowsPerStrip
	if rowsPerStrip == 0 {
		rowsPerStrip = tr.height
	}

	var strips [][]byte
	for top := 0; top < tr.height; top += rowsPerStrip {
		bottom := top + rowsPerStrip
		if bottom > tr.height {
			bottom = tr.height
		}
		sub := tr
		sub.values = tr.values[top:bottom]
		strip := encodeSamples(t, sub, bo)
		if tr.compress {
			var zbuf bytes.Buffer
			zw := zlib.NewWriter(&zbuf)
			zw.Write(strip)
			zw.Close()
			strip = zbuf.Bytes()
		}
		strips = append(strips, strip)
	}

	stripOffs := make([]uint32, len(strips))
	stripCounts := make([]uint32, len(strips))
	next := uint32(8)
	for i, s := range strips {
		stripOffs[i] = next
		stripCounts[i] = uint32(len(s))
		next += uint32(len(s))
	}

	// Strip offset/count arrays only need out-of-line storage when there is
	// more than one strip; a single LONG fits in the value field.
	offsArrayOff, countsArrayOff := uint32(0), uint32(0)
	if len(strips) > 1 {
		offsArrayOff = next
		countsArrayOff = offsArrayOff + uint32(4*len(strips))
		next = countsArrayOff + uint32(4*len(strips))
	}
	scaleOff := next
	tieOff := scaleOff + 24
	nodataOff := tieOff + 48
	ifdOff := nodataOff + uint32(len(tr.nodata)+1)
	if ifdOff%2 == 1 {
		ifdOff++
	}

	compression := compressionNone
	if tr.compress {
		compression = compressionDeflate
	}

	offsValue, countsValue := stripOffs[0], stripCounts[0]
	if len(strips) > 1 {
		offsValue, countsValue = offsArrayOff, countsArrayOff
	}

	entries := []rawEntry{
		{tagImageWidth, 4, 1, uint32(tr.width)},
		{tagImageLength, 4, 1, uint32(tr.height)},
		{tagBitsPerSample, 3, 1, uint32(tr.bits)},
		{tagCompression, 3, 1, uint32(compression)},
		{tagStripOffsets, 4, len(strips), offsValue},
		{tagSamplesPerPixel, 3, 1, 1},
		{tagRowsPerStrip, 4, 1, uint32(rowsPerStrip)},
		{tagStripByteCounts, 4, len(strips), countsValue},
		{tagSampleFormat, 3, 1, uint32(tr.format)},
		{tagModelPixelScale, 12, 3, scaleOff},
		{tagModelTiepoint, 12, 6, tieOff},
	}
	if tr.nodata != "" {
		entries = append(entries, rawEntry{tagGDALNoData, 2, len(tr.nodata) + 1, nodataOff})
	}

	var buf bytes.Buffer
	if tr.bigEndian {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	binary.Write(&buf, bo, uint16(42))
	binary.Write(&buf, bo, ifdOff)

	for _, s := range strips {
		buf.Write(s)
	}
	if len(strips) > 1 {
		for _, off := range stripOffs {
			binary.Write(&buf, bo, off)
		}
		for _, n := range stripCounts {
			binary.Write(&buf, bo, n)
		}
	}

	for _, v := range []float64{tr.scaleX, tr.scaleY, 0} {
		binary.Write(&buf, bo, math.Float64bits(v))
	}
	for _, v := range []float64{0, 0, 0, tr.originX, tr.originY, 0} {
		binary.Write(&buf, bo, math.Float64bits(v))
	}
	if tr.nodata != "" {
		buf.WriteString(tr.nodata)
		buf.WriteByte(0)
	} else {
		buf.WriteByte(0)
	}
	for uint32(buf.Len()) < ifdOff {
		buf.WriteByte(0)
	}

	binary.Write(&buf, bo, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, bo, uint16(e.tag))
		binary.Write(&buf, bo, uint16(e.typ))
		binary.Write(&buf, bo, uint32(e.count))
		// SHORT values sit in the leading bytes of the value field.
		if e.typ == 3 && e.count == 1 {
			binary.Write(&buf, bo, uint16(e.value))
			binary.Write(&buf, bo, uint16(0))
		} else {
			binary.Write(&buf, bo, e.value)
		}
	}
	binary.Write(&buf, bo, uint32(0)) // no next IFD

	path := filepath.Join(t.TempDir(), "test.tif")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test raster: %v", err)
	}
	return path
}

// pixelCenter returns the geographic center of pixel (col,row).
func pixelCenter(tr testRaster, col, row int) (lon, lat float64) {
	lon = tr.originX + (float64(col)+0.5)*tr.scaleX
	lat = tr.originY - (float64(row)+0.5)*tr.scaleY
	return lon, lat
}

func TestSampleFloat32(t *testing.T) {
	tr := defaultRaster()
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	for _, tc := range []struct {
		col, row int
		want     float64
	}{
		{0, 0, 0},
		{3, 0, 3},
		{0, 3, 30},
		{2, 1, 12},
	} {
		lon, lat := pixelCenter(tr, tc.col, tc.row)
		v, ok, err := g.Sample(path, lon, lat)
		if err != nil {
			t.Fatalf("Sample(%d,%d): %v", tc.col, tc.row, err)
		}
		if !ok {
			t.Fatalf("Sample(%d,%d): no value", tc.col, tc.row)
		}
		if v != tc.want {
			t.Errorf("Sample(%d,%d) = %v, want %v", tc.col, tc.row, v, tc.want)
		}
	}
}

func TestSampleNoDataSentinel(t *testing.T) {
	tr := defaultRaster()
	tr.nodata = "-9999"
	tr.values[1][1] = -9999
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	lon, lat := pixelCenter(tr, 1, 1)
	_, ok, err := g.Sample(path, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if ok {
		t.Error("no-data pixel returned a value; want absent")
	}

	// A real zero next to the sentinel must still come through.
	tr2 := defaultRaster()
	tr2.nodata = "-9999"
	path2 := writeTestRaster(t, tr2)
	lon, lat = pixelCenter(tr2, 0, 0)
	v, ok, err := g.Sample(path2, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !ok || v != 0 {
		t.Errorf("zero pixel = (%v, %v), want (0, true)", v, ok)
	}
}

func TestSampleOutOfBounds(t *testing.T) {
	tr := defaultRaster()
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	for _, tc := range []struct{ lon, lat float64 }{
		{tr.originX - 1, tr.originY - 0.5},
		{tr.originX + 0.5, tr.originY + 1},
		{tr.originX + 100, tr.originY - 0.5},
		{tr.originX + 0.5, tr.originY - 100},
	} {
		_, ok, err := g.Sample(path, tc.lon, tc.lat)
		if err != nil {
			t.Fatalf("Sample(%v,%v): %v", tc.lon, tc.lat, err)
		}
		if ok {
			t.Errorf("Sample(%v,%v) returned a value outside the grid", tc.lon, tc.lat)
		}
	}
}

func TestSampleUint16(t *testing.T) {
	tr := defaultRaster()
	tr.format = sampleFormatUint
	tr.bits = 16
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	lon, lat := pixelCenter(tr, 3, 2)
	v, ok, err := g.Sample(path, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !ok || v != 23 {
		t.Errorf("Sample = (%v, %v), want (23, true)", v, ok)
	}
}

func TestSampleUint8(t *testing.T) {
	tr := defaultRaster()
	tr.format = sampleFormatUint
	tr.bits = 8
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	lon, lat := pixelCenter(tr, 3, 3)
	v, ok, err := g.Sample(path, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !ok || v != 33 {
		t.Errorf("Sample = (%v, %v), want (33, true)", v, ok)
	}
}

func TestSampleInt16(t *testing.T) {
	tr := defaultRaster()
	tr.format = sampleFormatInt
	tr.bits = 16
	tr.values[2][0] = -120
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	lon, lat := pixelCenter(tr, 0, 2)
	v, ok, err := g.Sample(path, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !ok || v != -120 {
		t.Errorf("Sample = (%v, %v), want (-120, true)", v, ok)
	}
}

func TestSampleFloat64(t *testing.T) {
	tr := defaultRaster()
	tr.bits = 64
	tr.values[1][2] = 12.75
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	lon, lat := pixelCenter(tr, 2, 1)
	v, ok, err := g.Sample(path, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !ok || v != 12.75 {
		t.Errorf("Sample = (%v, %v), want (12.75, true)", v, ok)
	}
}

func TestSampleMultiStrip(t *testing.T) {
	// rowsPerStrip 3 leaves a short final strip; 1 puts every row in its own.
	for _, rps := range []int{1, 2, 3} {
		tr := defaultRaster()
		tr.format = sampleFormatUint
		tr.bits = 8
		tr.rowsPerStrip = rps
		path := writeTestRaster(t, tr)

		var g GeoTIFF
		for _, tc := range []struct {
			col, row int
			want     float64
		}{
			{0, 0, 0},
			{1, 1, 11},
			{3, 2, 23},
			{2, 3, 32},
		} {
			lon, lat := pixelCenter(tr, tc.col, tc.row)
			v, ok, err := g.Sample(path, lon, lat)
			if err != nil {
				t.Fatalf("rowsPerStrip=%d Sample(%d,%d): %v", rps, tc.col, tc.row, err)
			}
			if !ok || v != tc.want {
				t.Errorf("rowsPerStrip=%d Sample(%d,%d) = (%v, %v), want (%v, true)",
					rps, tc.col, tc.row, v, ok, tc.want)
			}
		}
	}
}

func TestSampleDeflate(t *testing.T) {
	tr := defaultRaster()
	tr.compress = true
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	lon, lat := pixelCenter(tr, 1, 2)
	v, ok, err := g.Sample(path, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !ok || v != 21 {
		t.Errorf("Sample = (%v, %v), want (21, true)", v, ok)
	}
}

func TestSampleBigEndian(t *testing.T) {
	tr := defaultRaster()
	tr.bigEndian = true
	path := writeTestRaster(t, tr)

	var g GeoTIFF
	lon, lat := pixelCenter(tr, 2, 2)
	v, ok, err := g.Sample(path, lon, lat)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !ok || v != 22 {
		t.Errorf("Sample = (%v, %v), want (22, true)", v, ok)
	}
}

func TestSampleUnreadableFile(t *testing.T) {
	var g GeoTIFF
	if _, _, err := g.Sample(filepath.Join(t.TempDir(), "missing.tif"), 116.1, 39.9); err == nil {
		t.Error("expected error for missing file")
	}

	garbage := filepath.Join(t.TempDir(), "garbage.tif")
	if err := os.WriteFile(garbage, []byte("not a tiff at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Sample(garbage, 116.1, 39.9); err == nil {
		t.Error("expected error for non-TIFF bytes")
	}
}
