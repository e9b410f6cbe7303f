package volumeio

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcomplete/pkg/volume"
)

func testGeometry() volume.Geometry {
	g := volume.NewGeometry(volume.Extent{-3, 12, 0, 7, 2, 5}, [3]float64{0.5, 0.75, 2.5}, [3]float64{-10, 4, 100})
	g.Directions = [3][3]float64{{0, 1, 0}, {1, 0, 0}, {0, 0, 1}}
	return g
}

func TestRoundTripCompressions(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src, err := volume.NewGrid[float64](testGeometry())
	require.NoError(t, err)
	for i := range src.Data {
		src.Data[i] = rng.NormFloat64() * 100
	}

	for _, opts := range []Options{DefaultOptions(), {Compression: CompressionNone}, {Compression: CompressionZSTD, Level: 19}} {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, src, opts))

		got, err := Read[float64](&buf)
		require.NoError(t, err)
		assert.Equal(t, src.Geometry, got.Geometry)
		assert.Equal(t, src.Data, got.Data)
	}
}

func TestCompressionShrinksLabels(t *testing.T) {
	labels, err := volume.NewGrid[uint16](testGeometry())
	require.NoError(t, err)
	for i := range labels.Data {
		labels.Data[i] = uint16(i / 100)
	}

	var raw, packed bytes.Buffer
	require.NoError(t, Write(&raw, labels, Options{Compression: CompressionNone}))
	require.NoError(t, Write(&packed, labels, DefaultOptions()))
	assert.Less(t, packed.Len(), raw.Len())

	got, err := Read[uint16](&packed)
	require.NoError(t, err)
	assert.Equal(t, labels.Data, got.Data)
}

func TestReadWrongType(t *testing.T) {
	b, err := volume.NewGrid[uint8](testGeometry())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, b, DefaultOptions()))
	_, err = Read[float64](&buf)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadGarbage(t *testing.T) {
	_, err := Read[uint8](bytes.NewReader([]byte("not a volume file at all, just text padding it out")))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Read[uint8](bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadTruncated(t *testing.T) {
	b, err := volume.NewGrid[int8](testGeometry())
	require.NoError(t, err)
	b.Fill(-108)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, b, Options{Compression: CompressionNone}))
	truncated := buf.Bytes()[:buf.Len()-10]
	_, err = Read[int8](bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.vol")
	labels, err := volume.NewGrid[uint16](testGeometry())
	require.NoError(t, err)
	labels.Set(0, 0, 3, 2)

	require.NoError(t, WriteFile(path, labels, DefaultOptions()))

	info, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, VoxelUint16, info.VoxelType)
	assert.Equal(t, CompressionZSTD, info.Compression)
	assert.Equal(t, labels.Geometry, info.Geometry)

	got, err := ReadFile[uint16](path)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), got.At(0, 0, 3))

	_, err = ReadFile[uint16](filepath.Join(t.TempDir(), "missing.vol"))
	assert.Error(t, err)
}

func TestVoxelTypeNames(t *testing.T) {
	assert.Equal(t, VoxelInt8, TypeOf[int8]())
	assert.Equal(t, VoxelFloat32, TypeOf[float32]())
	assert.Equal(t, "int16", VoxelInt16.String())
	assert.Equal(t, "VoxelType(9)", VoxelType(9).String())
}

func TestReadOversizedExtent(t *testing.T) {
	h := header{
		Magic:       magic,
		Version:     version,
		VoxelType:   VoxelUint8,
		Compression: CompressionNone,
		Extent:      [6]int32{0, 2097151, 0, 2097151, 0, 2097151},
		Spacing:     [3]float64{1, 1, 1},
		Directions:  volume.IdentityDirections,
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))

	_, err := Read[uint8](bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrFormat)

	// Full int32 range on every axis must not overflow the count either.
	h.Extent = [6]int32{-2147483648, 2147483647, -2147483648, 2147483647, -2147483648, 2147483647}
	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	_, err = Read[uint8](bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestVoxelCount(t *testing.T) {
	n, ok := voxelCount([6]int32{-3, 12, 0, 7, 2, 5})
	assert.True(t, ok)
	assert.Equal(t, uint64(16*8*4), n)

	_, ok = voxelCount([6]int32{0, 1 << 16, 0, 1 << 16, 0, 0})
	assert.False(t, ok)
}

func TestWriteRejectsWideExtent(t *testing.T) {
	g := &volume.Grid[uint8]{
		Geometry: volume.NewGeometry(volume.Extent{1 << 40, 1<<40 + 1, 0, 0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{}),
		Data:     make([]uint8, 2),
	}
	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, g, DefaultOptions()), volume.ErrInvalidGeometry)
	assert.Zero(t, buf.Len())
}
