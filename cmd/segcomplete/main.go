package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"segcomplete/internal/memhost"
	"segcomplete/pkg/config"
	"segcomplete/pkg/fractional"
	"segcomplete/pkg/host"
	"segcomplete/pkg/interpolation"
	"segcomplete/pkg/session"
	"segcomplete/pkg/statistics"
	"segcomplete/pkg/visualization"
	"segcomplete/pkg/volume"
	"segcomplete/pkg/volumeio"
)

// palette colors segments in input order
var palette = [][3]float64{
	{0.95, 0.35, 0.25},
	{0.30, 0.60, 0.95},
	{0.40, 0.80, 0.35},
	{0.95, 0.80, 0.25},
	{0.70, 0.40, 0.85},
	{0.30, 0.85, 0.85},
}

type seedFile struct {
	name string
	path string
}

type options struct {
	intensityPath string
	seeds         []seedFile
	references    []seedFile
	outputDir     string
	cores         int
	extractSlices bool
	saveLabels    bool
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "segcomplete.yaml", "Path to the YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	debugMode := flag.Bool("debug", false, "Enable debug mode with verbose logging")
	intensityPath := flag.String("intensity", "", "Intensity volume file")
	seedList := flag.String("seeds", "", "Comma-separated seed labelmap files, optionally as name=path")
	outputDir := flag.String("output", "", "Output directory (default: from configuration)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from configuration)")
	extractSlices := flag.Bool("extract-slices", false, "Save slices of the completed labels as PNG")
	saveLabels := flag.Bool("save-labels", true, "Save the merged label volume")
	referenceList := flag.String("reference", "", "Comma-separated reference labelmaps (name=path) to score the result against")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(*debugMode, cfg.Output.Verbose)

	seeds, err := parseSeeds(*seedList)
	if err != nil || *intensityPath == "" {
		if err != nil {
			logger.WithError(err).Error("Invalid seeds")
		}
		flag.Usage()
		os.Exit(1)
	}

	var references []seedFile
	if *referenceList != "" {
		if references, err = parseSeeds(*referenceList); err != nil {
			logger.WithError(err).Error("Invalid references")
			os.Exit(1)
		}
	}

	opts := options{
		intensityPath: *intensityPath,
		seeds:         seeds,
		references:    references,
		outputDir:     *outputDir,
		cores:         *numCores,
		extractSlices: *extractSlices,
		saveLabels:    *saveLabels,
	}
	if opts.outputDir == "" {
		opts.outputDir = cfg.Output.Directory
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = run(ctx, cfg, opts, logger, os.Stdout)
	if errors.Is(err, volume.ErrSkipped) {
		logger.WithError(err).Warn("Nothing to complete")
		os.Exit(2)
	}
	if err != nil {
		logger.WithError(err).Fatal("Auto-complete failed")
	}
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.WarnLevel)
		if verbose {
			logger.SetLevel(logrus.InfoLevel)
		}
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}

// parseSeeds splits "a.vol,liver=b.vol" into seed files. Unnamed entries are
// named after the file.
func parseSeeds(list string) ([]seedFile, error) {
	var seeds []seedFile
	seen := make(map[string]bool)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		sf := seedFile{path: entry}
		if name, path, ok := strings.Cut(entry, "="); ok {
			sf.name, sf.path = strings.TrimSpace(name), strings.TrimSpace(path)
		} else {
			sf.name = strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))
		}
		if sf.name == "" || sf.path == "" {
			return nil, fmt.Errorf("invalid seed entry %q", entry)
		}
		if seen[sf.name] {
			return nil, fmt.Errorf("duplicate seed name %q", sf.name)
		}
		seen[sf.name] = true
		seeds = append(seeds, sf)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seed files given")
	}
	return seeds, nil
}

// run loads the inputs, completes the segmentation and writes the results.
func run(ctx context.Context, cfg *config.Config, opts options, logger *logrus.Logger, out io.Writer) error {
	if opts.cores > 0 {
		cfg.Growth.NumWorkers = opts.cores
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := checkInputs(opts); err != nil {
		return err
	}

	intensity, err := volumeio.ReadFile[float64](opts.intensityPath)
	if err != nil {
		return fmt.Errorf("failed to read intensity volume: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"file":   opts.intensityPath,
		"extent": intensity.Geometry.Extent.String(),
		"size":   humanize.Bytes(intensity.SizeBytes()),
	}).Info("Loaded intensity volume")

	store, err := loadSegments(cfg, opts.seeds, logger)
	if err != nil {
		return err
	}

	growth, err := cfg.GrowthOptions()
	if err != nil {
		return err
	}
	growth.Logger = logger
	growth.Progress = func(iteration, total, changed int) {
		logger.WithFields(logrus.Fields{
			"pass":    iteration,
			"of":      total,
			"changed": humanize.Comma(int64(changed)),
		}).Debug("Growth pass finished")
	}

	effect, err := session.NewGrowFromSeeds(session.Host{
		Source:   memhost.NewSource(intensity),
		Segments: store,
		Sink:     store,
	}, cfg.Parameters(), session.Options{
		MinimumSegments:  cfg.Geometry.MinimumSegments,
		Growth:           &growth,
		FractionalParams: cfg.FractionalParams(),
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	if err := effect.Activate(ctx); err != nil {
		return err
	}
	defer effect.Deactivate()

	fmt.Fprintln(out, "================================")
	fmt.Fprintf(out, "%s: %d segments, %s voxels\n", effect.Name(), len(opts.seeds),
		humanize.Comma(int64(intensity.Geometry.Extent.NumVoxels())))
	fmt.Fprintln(out, "================================")

	startTime := time.Now()
	preview, err := effect.Preview(ctx)
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	// Statistics are measured on the grid the labels were grown on.
	background, err := interpolation.ResampleClamped(intensity, preview.Labels.Geometry, volume.LinearInterpolation)
	if err != nil {
		return err
	}
	stats, err := statistics.ComputeAll(preview.Labels, preview.Resolution.SegmentIDs, background)
	if err != nil {
		return err
	}
	printStatistics(out, preview, stats, processingTime)

	if opts.extractSlices {
		if err := exportSlices(preview, background, cfg, opts.outputDir, out); err != nil {
			logger.WithError(err).Warn("Failed to save slices")
		}
	}

	if err := effect.Apply(ctx); err != nil {
		return err
	}
	if err := saveResults(store, preview, opts, logger); err != nil {
		return err
	}
	return compareReferences(store, opts.references, cfg.Fractional.Threshold, out)
}

// checkInputs reads the header of every input file so that a wrong voxel
// type fails before the intensity volume is loaded.
func checkInputs(opts options) error {
	check := func(kind, name, path string, want volumeio.VoxelType) error {
		info, err := volumeio.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to read %s %q: %w", kind, name, err)
		}
		if info.VoxelType != want {
			return fmt.Errorf("%s %q: %w: file holds %v voxels, expected %v", kind, name, volumeio.ErrFormat, info.VoxelType, want)
		}
		return nil
	}
	if err := check("intensity volume", filepath.Base(opts.intensityPath), opts.intensityPath, volumeio.VoxelFloat64); err != nil {
		return err
	}
	for _, sf := range opts.seeds {
		if err := check("seed", sf.name, sf.path, volumeio.VoxelUint8); err != nil {
			return err
		}
	}
	for _, ref := range opts.references {
		if err := check("reference", ref.name, ref.path, volumeio.VoxelUint8); err != nil {
			return err
		}
	}
	return nil
}

func loadSegments(cfg *config.Config, seeds []seedFile, logger logrus.FieldLogger) (*memhost.Store, error) {
	store := memhost.NewStore(cfg.Fractional.Enabled)
	for n, sf := range seeds {
		b, err := volumeio.ReadFile[uint8](sf.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed %q: %w", sf.name, err)
		}
		seg := host.Segment{ID: sf.name, Name: sf.name, Color: palette[n%len(palette)]}
		if cfg.Fractional.Enabled {
			factor := cfg.Fractional.OversamplingFactor
			fine, err := fractional.Oversample(b, factor)
			if err != nil {
				return nil, err
			}
			if seg.Fractional, err = fractional.BinaryToFractional(fine, factor, cfg.FractionalParams()); err != nil {
				return nil, err
			}
		} else {
			seg.Binary = b
		}
		if err := store.AddSegment(seg); err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"segment": sf.name,
			"file":    sf.path,
		}).Info("Loaded seed segment")
	}
	return store, nil
}

func printStatistics(out io.Writer, preview *session.Preview, stats []statistics.SegmentStatistics, elapsed time.Duration) {
	fmt.Fprintf(out, "\nAuto-complete finished in %.2f seconds (%d passes, converged: %v)\n",
		elapsed.Seconds(), preview.Growth.Iterations, preview.Growth.Converged)
	fmt.Fprintf(out, "Working extent: %v\n\n", preview.Labels.Geometry.Extent)

	fmt.Fprintf(out, "Segment Statistics:\n")
	fmt.Fprintf(out, "=======================================\n")
	for _, s := range stats {
		fmt.Fprintf(out, "%s\n", s.SegmentID)
		fmt.Fprintf(out, "  Voxels:   %s\n", humanize.Comma(int64(s.VoxelCount)))
		fmt.Fprintf(out, "  Volume:   %s mm3 (%s cm3)\n",
			humanize.CommafWithDigits(s.VolumeMM3, 2), humanize.CommafWithDigits(s.VolumeCM3, 3))
		if s.VoxelCount == 0 {
			continue
		}
		fmt.Fprintf(out, "  Centroid: (%.2f, %.2f, %.2f)\n", s.Centroid[0], s.Centroid[1], s.Centroid[2])
		fmt.Fprintf(out, "  OBB:      %.2f x %.2f x %.2f mm\n", s.OBBDiameter[0], s.OBBDiameter[1], s.OBBDiameter[2])
		if s.HasIntensity {
			fmt.Fprintf(out, "  Mean:     %.3f (std %.3f)\n", s.MeanIntensity, s.StdDevIntensity)
		}
	}
}

func exportSlices(preview *session.Preview, background *volume.IntensityVolume, cfg *config.Config, outputDir string, out io.Writer) error {
	colors := make([][3]float64, len(preview.Segments))
	for n, seg := range preview.Segments {
		colors[n] = seg.Color
	}
	viewer, err := visualization.NewViewer(preview.Labels, background, colors)
	if err != nil {
		return err
	}
	viewer.SetOpacity(cfg.Session.PreviewOpacity)
	axis := cfg.Output.SliceAxis

	slicesPath := filepath.Join(outputDir, "slices", axis)
	fmt.Fprintf(out, "\nSaving %s-axis slices to: %s\n", axis, slicesPath)
	written, err := viewer.SaveSliceSequence(axis, slicesPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %d slices\n", written)
	return nil
}

// saveResults writes every completed segment and, optionally, the merged
// label volume.
func saveResults(store *memhost.Store, preview *session.Preview, opts options, logger logrus.FieldLogger) error {
	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		return err
	}
	write := volumeio.DefaultOptions()

	for _, id := range store.SegmentIDs() {
		seg, ok := store.Segment(id)
		if !ok {
			continue
		}
		path := filepath.Join(opts.outputDir, id+".vol")
		switch {
		case seg.Binary != nil:
			err := volumeio.WriteFile(path, seg.Binary, write)
			if err != nil {
				return err
			}
		case seg.Fractional != nil:
			err := volumeio.WriteFile(path, &seg.Fractional.Grid, write)
			if err != nil {
				return err
			}
		default:
			continue
		}
		logger.WithFields(logrus.Fields{"segment": id, "file": path}).Info("Saved segment")
	}

	if opts.saveLabels {
		path := filepath.Join(opts.outputDir, "labels.vol")
		if err := volumeio.WriteFile(path, preview.Labels, write); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"file": path,
			"size": humanize.Bytes(preview.Labels.SizeBytes()),
		}).Info("Saved label volume")
	}
	return nil
}

// compareReferences scores each applied segment against the reference
// labelmap of the same name.
func compareReferences(store *memhost.Store, references []seedFile, threshold float64, out io.Writer) error {
	if len(references) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nAgreement with reference:\n")
	fmt.Fprintf(out, "=======================================\n")
	for _, ref := range references {
		seg, ok := store.Segment(ref.name)
		if !ok {
			return fmt.Errorf("reference %q: %w", ref.name, memhost.ErrUnknownSegment)
		}
		reference, err := volumeio.ReadFile[uint8](ref.path)
		if err != nil {
			return fmt.Errorf("failed to read reference %q: %w", ref.name, err)
		}
		result := seg.Binary
		if seg.Fractional != nil {
			result = fractional.FractionalToBinary(seg.Fractional, threshold)
		}
		if result == nil {
			return fmt.Errorf("reference %q: segment is empty", ref.name)
		}
		agreement, err := statistics.Compare(result, reference)
		if err != nil {
			return fmt.Errorf("reference %q: %w", ref.name, err)
		}
		fmt.Fprintf(out, "%s: Dice %.4f, Jaccard %.4f, %s false positive, %s false negative voxels\n",
			ref.name, agreement.Dice, agreement.Jaccard,
			humanize.Comma(int64(agreement.FalsePositive)), humanize.Comma(int64(agreement.FalseNegative)))
	}
	return nil
}
