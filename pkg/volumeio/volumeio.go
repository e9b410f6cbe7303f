// Package volumeio reads and writes voxel grids as single files: a fixed
// little-endian header carrying the geometry, followed by the voxel buffer,
// optionally zstd-compressed.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"

	"segcomplete/pkg/volume"
)

// Compression selects how the voxel buffer is stored.
type Compression uint8

const (
	// CompressionNone stores voxels as raw little-endian values.
	CompressionNone Compression = 0
	// CompressionZSTD stores voxels as a zstd stream.
	CompressionZSTD Compression = 1
)

const (
	version = 1

	// DefaultLevel is the zstd level used by DefaultOptions.
	DefaultLevel = 3

	// MaxVoxels bounds the voxel count of a file.
	MaxVoxels uint64 = 1 << 31
)

var magic = [4]byte{'S', 'C', 'V', 'L'}

// ErrFormat is returned for files that are not volumes or hold another voxel
// type than requested.
var ErrFormat = errors.New("invalid volume file")

// VoxelType identifies the scalar type stored in a file.
type VoxelType uint8

const (
	VoxelUint8 VoxelType = iota + 1
	VoxelInt8
	VoxelUint16
	VoxelInt16
	VoxelFloat32
	VoxelFloat64
)

func (t VoxelType) String() string {
	switch t {
	case VoxelUint8:
		return "uint8"
	case VoxelInt8:
		return "int8"
	case VoxelUint16:
		return "uint16"
	case VoxelInt16:
		return "int16"
	case VoxelFloat32:
		return "float32"
	case VoxelFloat64:
		return "float64"
	}
	return fmt.Sprintf("VoxelType(%d)", uint8(t))
}

// TypeOf returns the VoxelType of T.
func TypeOf[T volume.Scalar]() VoxelType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return VoxelUint8
	case int8:
		return VoxelInt8
	case uint16:
		return VoxelUint16
	case int16:
		return VoxelInt16
	case float32:
		return VoxelFloat32
	}
	return VoxelFloat64
}

// Options controls writing.
type Options struct {
	Compression Compression
	// Level is a zstd compression level (1-22).
	Level int
}

// DefaultOptions writes zstd-compressed volumes.
func DefaultOptions() Options {
	return Options{Compression: CompressionZSTD, Level: DefaultLevel}
}

type header struct {
	Magic       [4]byte
	Version     uint8
	VoxelType   VoxelType
	Compression Compression
	Reserved    uint8
	Extent      [6]int32
	Spacing     [3]float64
	Origin      [3]float64
	Directions  [3][3]float64
}

// Info is the metadata of a volume file.
type Info struct {
	Geometry    volume.Geometry
	VoxelType   VoxelType
	Compression Compression
}

// Write encodes g to w.
func Write[T volume.Scalar](w io.Writer, g *volume.Grid[T], opts Options) error {
	h := header{
		Magic:       magic,
		Version:     version,
		VoxelType:   TypeOf[T](),
		Compression: opts.Compression,
		Spacing:     g.Geometry.Spacing,
		Origin:      g.Geometry.Origin,
		Directions:  g.Geometry.Directions,
	}
	for n, v := range g.Geometry.Extent {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("%w: extent %v does not fit in 32-bit indices", volume.ErrInvalidGeometry, g.Geometry.Extent)
		}
		h.Extent[n] = int32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	switch opts.Compression {
	case CompressionNone:
		return binary.Write(w, binary.LittleEndian, g.Data)
	case CompressionZSTD:
		level := zstd.EncoderLevelFromZstd(opts.Level)
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		if err := binary.Write(enc, binary.LittleEndian, g.Data); err != nil {
			enc.Close()
			return fmt.Errorf("failed to write voxels: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown compression %d", opts.Compression)
}

func readHeader(r io.Reader) (Info, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if h.Magic != magic {
		return Info{}, fmt.Errorf("%w: bad magic %q", ErrFormat, h.Magic[:])
	}
	if h.Version != version {
		return Info{}, fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	info := Info{
		Geometry: volume.Geometry{
			Spacing:    h.Spacing,
			Origin:     h.Origin,
			Directions: h.Directions,
		},
		VoxelType:   h.VoxelType,
		Compression: h.Compression,
	}
	for n, v := range h.Extent {
		info.Geometry.Extent[n] = int(v)
	}
	if err := info.Geometry.Validate(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if _, ok := voxelCount(h.Extent); !ok {
		return Info{}, fmt.Errorf("%w: extent %v holds more than %d voxels", ErrFormat, info.Geometry.Extent, MaxVoxels)
	}
	return info, nil
}

// voxelCount multiplies the axis sizes of e, reporting false once the
// product passes MaxVoxels.
func voxelCount(e [6]int32) (uint64, bool) {
	n := uint64(1)
	for axis := 0; axis < 3; axis++ {
		d := uint64(int64(e[2*axis+1]) - int64(e[2*axis]) + 1)
		if d > MaxVoxels/n {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// Read decodes a grid of voxel type T from r.
func Read[T volume.Scalar](r io.Reader) (*volume.Grid[T], error) {
	info, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if want := TypeOf[T](); info.VoxelType != want {
		return nil, fmt.Errorf("%w: file holds %v voxels, expected %v", ErrFormat, info.VoxelType, want)
	}
	g, err := volume.NewGrid[T](info.Geometry)
	if err != nil {
		return nil, err
	}

	switch info.Compression {
	case CompressionNone:
		err = binary.Read(r, binary.LittleEndian, g.Data)
	case CompressionZSTD:
		dec, derr := zstd.NewReader(r)
		if derr != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", derr)
		}
		err = binary.Read(dec, binary.LittleEndian, g.Data)
		dec.Close()
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrFormat, info.Compression)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read voxels: %v", ErrFormat, err)
	}
	return g, nil
}

// WriteFile writes g to path, replacing any existing file.
func WriteFile[T volume.Scalar](path string, g *volume.Grid[T], opts Options) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(file)
	if err := Write(bw, g, opts); err != nil {
		file.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadFile reads a grid of voxel type T from path.
func ReadFile[T volume.Scalar](path string) (*volume.Grid[T], error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	g, err := Read[T](bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Stat reads only the header of path.
func Stat(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()
	return readHeader(file)
}
