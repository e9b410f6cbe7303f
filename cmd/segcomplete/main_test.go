package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcomplete/pkg/config"
	"segcomplete/pkg/labelmap"
	"segcomplete/pkg/volume"
	"segcomplete/pkg/volumeio"
)

func TestParseSeeds(t *testing.T) {
	seeds, err := parseSeeds("data/liver.vol, tumor = data/t.vol ,")
	require.NoError(t, err)
	assert.Equal(t, []seedFile{
		{name: "liver", path: "data/liver.vol"},
		{name: "tumor", path: "data/t.vol"},
	}, seeds)

	_, err = parseSeeds("")
	assert.Error(t, err)
	_, err = parseSeeds("a.vol,x/a.vol")
	assert.Error(t, err)
	_, err = parseSeeds("=a.vol")
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, initLogger(true, false).GetLevel())
	assert.Equal(t, logrus.InfoLevel, initLogger(false, true).GetLevel())
	assert.Equal(t, logrus.WarnLevel, initLogger(false, false).GetLevel())
}

// writeInputs writes a two-region intensity volume (dark for i < 6) and one
// single-voxel seed in each region.
func writeInputs(t *testing.T, dir string) options {
	t.Helper()
	g := volume.NewGeometry(volume.Extent{0, 11, 0, 7, 0, 7}, [3]float64{1, 1, 1}, [3]float64{})
	intensity, err := volume.NewGrid[float64](g)
	require.NoError(t, err)
	for v := range intensity.Data {
		if i, _, _ := intensity.Coords(v); i >= 6 {
			intensity.Data[v] = 100
		}
	}
	opts := options{
		intensityPath: filepath.Join(dir, "intensity.vol"),
		outputDir:     filepath.Join(dir, "out"),
		cores:         2,
		extractSlices: true,
		saveLabels:    true,
	}
	require.NoError(t, volumeio.WriteFile(opts.intensityPath, intensity, volumeio.DefaultOptions()))

	for _, seed := range []struct {
		name string
		i    int
	}{{"dark", 1}, {"bright", 10}} {
		b, err := volume.NewGrid[uint8](g)
		require.NoError(t, err)
		b.Set(seed.i, 4, 4, 1)
		path := filepath.Join(dir, seed.name+".vol")
		require.NoError(t, volumeio.WriteFile(path, b, volumeio.DefaultOptions()))
		opts.seeds = append(opts.seeds, seedFile{name: seed.name, path: path})
	}
	return opts
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)

	// The dark region is exactly the i < 6 half.
	intensity, err := volumeio.ReadFile[float64](opts.intensityPath)
	require.NoError(t, err)
	reference, err := volume.NewGrid[uint8](intensity.Geometry)
	require.NoError(t, err)
	for v, value := range intensity.Data {
		if value == 0 {
			reference.Data[v] = 1
		}
	}
	refPath := filepath.Join(dir, "reference.vol")
	require.NoError(t, volumeio.WriteFile(refPath, reference, volumeio.Options{Compression: volumeio.CompressionNone}))
	opts.references = []seedFile{{name: "dark", path: refPath}}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), config.DefaultConfig(), opts, quietLogger(), &out))
	assert.Contains(t, out.String(), "Segment Statistics")
	assert.Contains(t, out.String(), "Saved 8 slices")
	assert.Contains(t, out.String(), "dark: Dice 1.0000, Jaccard 1.0000, 0 false positive, 0 false negative voxels")

	labels, err := volumeio.ReadFile[uint16](filepath.Join(opts.outputDir, "labels.vol"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 384, 384}, labelmap.CountLabels(labels, 2))

	dark, err := volumeio.ReadFile[uint8](filepath.Join(opts.outputDir, "dark.vol"))
	require.NoError(t, err)
	assert.Equal(t, uint8(1), dark.At(5, 0, 7))
	assert.Equal(t, uint8(0), dark.At(6, 0, 7))

	slices, err := os.ReadDir(filepath.Join(opts.outputDir, "slices", "z"))
	require.NoError(t, err)
	assert.Len(t, slices, 8)
}

func TestRunFractional(t *testing.T) {
	opts := writeInputs(t, t.TempDir())
	opts.extractSlices = false
	cfg := config.DefaultConfig()
	cfg.Fractional.Enabled = true

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, opts, quietLogger(), &out))

	bright, err := volumeio.Stat(filepath.Join(opts.outputDir, "bright.vol"))
	require.NoError(t, err)
	assert.Equal(t, volumeio.VoxelInt8, bright.VoxelType)

	labels, err := volumeio.Stat(filepath.Join(opts.outputDir, "labels.vol"))
	require.NoError(t, err)
	assert.Equal(t, [3]int{36, 24, 24}, labels.Geometry.Extent.Dims())
}

func TestRunSkipsSingleSegment(t *testing.T) {
	opts := writeInputs(t, t.TempDir())
	opts.seeds = opts.seeds[:1]

	var out bytes.Buffer
	err := run(context.Background(), config.DefaultConfig(), opts, quietLogger(), &out)
	assert.ErrorIs(t, err, volume.ErrSkipped)
}

func TestRunRejectsWrongSeedType(t *testing.T) {
	dir := t.TempDir()
	opts := writeInputs(t, dir)
	labels, err := volume.NewGrid[uint16](volume.NewGeometry(volume.Extent{0, 11, 0, 7, 0, 7}, [3]float64{1, 1, 1}, [3]float64{}))
	require.NoError(t, err)
	require.NoError(t, volumeio.WriteFile(opts.seeds[1].path, labels, volumeio.DefaultOptions()))

	var out bytes.Buffer
	err = run(context.Background(), config.DefaultConfig(), opts, quietLogger(), &out)
	require.ErrorIs(t, err, volumeio.ErrFormat)
	assert.Contains(t, err.Error(), `seed "bright"`)
	assert.Empty(t, out.String())
	assert.NoDirExists(t, opts.outputDir)
}
