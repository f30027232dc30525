// Command spotcount counts bright spots in microscopy images and optionally
// writes every intermediate stage next to the count.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go-spot-counter/internal/factory"
	"go-spot-counter/internal/imageio"
	"go-spot-counter/internal/logger"
	"go-spot-counter/internal/pipeline"
	"go-spot-counter/internal/storage"
	"go-spot-counter/pkg/validation"
)

type options struct {
	params    pipeline.Parameters
	roi       *pipeline.Rectangle
	binarizer string
	extractor string
	outDir    string
	format    imageio.Format
	workers   int
	maxDim    int
	files     []string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	logger.SetOutput(io.Discard)
	if os.Getenv("LOG_LEVEL") != "" {
		logger.SetOutput(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if failed := run(ctx, opts, os.Stdout); failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d images failed\n", failed, len(opts.files))
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	defaults := pipeline.DefaultParameters()
	fs := flag.NewFlagSet("spotcount", flag.ContinueOnError)
	fs.SetOutput(stderr)

	threshold := fs.Int("threshold", defaults.Threshold, "Binarization threshold (0-255); pixels strictly above are foreground")
	blur := fs.Int("blur", defaults.BlurKernelSize, "Gaussian blur kernel size before thresholding (odd, 1 = off)")
	shape := fs.String("kernel-shape", string(defaults.KernelShape), "Opening kernel shape: ellipse, rect or cross")
	kernel := fs.Int("kernel-size", defaults.KernelSize, "Opening kernel size (odd, 1 = off)")
	minArea := fs.Float64("min-area", defaults.MinArea, "Smallest spot area kept, inclusive")
	maxArea := fs.Float64("max-area", defaults.MaxArea, "Largest spot area kept, inclusive")
	markerColor := fs.String("color", pipeline.FormatHexColor(defaults.MarkerColor), "Outline color as #rrggbb")
	lineWidth := fs.Int("line-width", defaults.LineWidth, "Outline width in pixels")
	roi := fs.String("roi", "", "Region of interest as x,y,width,height (default whole image)")
	binarizer := fs.String("binarizer", string(factory.FixedBinarizer), "Binarizer: fixed or adaptive")
	extractor := fs.String("extractor", string(factory.ContourExtractor), "Extractor: contour, hough or watershed")
	outDir := fs.String("out", "", "Write stage images and a summary per input under this directory")
	format := fs.String("format", "png", "Stage image format: png, jpeg or tiff")
	workers := fs.Int("workers", 0, "Concurrent images (0 = one per CPU)")
	maxDim := fs.Int("max-dimension", validation.DefaultParameterLimits().MaxImageDimension, "Reject images wider or taller than this")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: spotcount [flags] image|dir [image|dir...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, fmt.Errorf("no input images")
	}

	kernelShape, err := pipeline.ParseKernelShape(*shape)
	if err != nil {
		return nil, err
	}
	c, err := pipeline.ParseHexColor(*markerColor)
	if err != nil {
		return nil, err
	}
	params := defaults.
		WithThreshold(*threshold).
		WithBlur(*blur).
		WithMorphology(kernelShape, *kernel).
		WithAreaRange(*minArea, *maxArea).
		WithMarker(c, *lineWidth)
	if err := params.Validate(); err != nil {
		return nil, err
	}

	outFormat, err := imageio.ParseFormat(*format)
	if err != nil {
		return nil, err
	}
	files, err := expandInputs(fs.Args())
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", strings.Join(fs.Args(), ", "))
	}

	opts := &options{
		params:    params,
		binarizer: *binarizer,
		extractor: *extractor,
		outDir:    *outDir,
		format:    outFormat,
		workers:   *workers,
		maxDim:    *maxDim,
		files:     files,
	}
	if *roi != "" {
		r, err := parseROI(*roi)
		if err != nil {
			return nil, err
		}
		opts.roi = &r
	}
	return opts, nil
}

// expandInputs replaces each directory with the image files directly inside
// it. Other paths are kept as given so missing files are reported per image.
func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && imageio.IsSupportedExtension(e.Name()) {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	return files, nil
}

// runIDs names one output directory per file after its stem, adding -2, -3
// and so on when stems repeat
func runIDs(files []string) []string {
	ids := make([]string, len(files))
	used := make(map[string]bool, len(files))
	for i, path := range files {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		id := stem
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", stem, n)
		}
		used[id] = true
		ids[i] = id
	}
	return ids
}

// parseROI reads "x,y,width,height"
func parseROI(s string) (pipeline.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return pipeline.Rectangle{}, fmt.Errorf("roi must be x,y,width,height, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return pipeline.Rectangle{}, fmt.Errorf("roi value %q is not an integer", p)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return pipeline.Rectangle{}, fmt.Errorf("roi size must be positive, got %dx%d", v[2], v[3])
	}
	return pipeline.Rectangle{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// run counts every file and returns how many failed
func run(ctx context.Context, opts *options, out io.Writer) int {
	strategies := factory.NewStrategyFactory()
	binarizer, err := strategies.CreateBinarizer(factory.BinarizerType(opts.binarizer))
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return len(opts.files)
	}
	extractor, err := strategies.CreateExtractor(factory.ExtractorType(opts.extractor))
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return len(opts.files)
	}

	var archive storage.ResultArchive
	if opts.outDir != "" {
		archive, err = storage.NewFileArchive(opts.outDir)
		if err != nil {
			fmt.Fprintf(out, "%v\n", err)
			return len(opts.files)
		}
	}

	failed := 0
	ids := runIDs(opts.files)
	jobs := make([]pipeline.Job, 0, len(opts.files))
	jobRunIDs := make([]string, 0, len(opts.files))
	var buffers []*imageio.Decoded
	defer func() {
		for _, d := range buffers {
			d.Close()
		}
	}()
	for i, path := range opts.files {
		decoded, err := imageio.DecodeFile(path, opts.maxDim)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}
		buffers = append(buffers, decoded)
		jobs = append(jobs, pipeline.Job{ID: path, Raw: decoded.Raw, ROI: opts.roi, Params: opts.params})
		jobRunIDs = append(jobRunIDs, ids[i])
	}

	p := pipeline.New(pipeline.WithBinarizer(binarizer), pipeline.WithExtractor(extractor))
	pool := pipeline.NewWorkerPool(opts.workers)
	defer pool.Close()

	fmt.Fprintf(out, "%-40s %8s %8s %10s %10s\n", "IMAGE", "SPOTS", "REGIONS", "MEAN AREA", "ROI")
	for i, br := range p.Batch(ctx, pool, jobs) {
		if br.Err != nil {
			fmt.Fprintf(out, "%s: %v\n", br.ID, br.Err)
			failed++
			if br.Result != nil {
				br.Result.Close()
			}
			continue
		}
		res := br.Result
		fmt.Fprintf(out, "%-40s %8d %8d %10.1f %10s\n",
			filepath.Base(br.ID), res.SpotCount, len(res.Regions), res.Stats.Mean,
			pipeline.RectangleFrom(res.ROI).String())
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  warning: %v\n", w)
		}

		if archive != nil {
			location, err := writeStages(ctx, archive, jobRunIDs[i], br.ID, res, opts.format)
			if err != nil {
				fmt.Fprintf(out, "  failed to write stages: %v\n", err)
				failed++
			} else {
				fmt.Fprintf(out, "  stages written to %s\n", location)
			}
		}
		res.Close()
	}
	return failed
}

type summary struct {
	Image     string                  `json:"image"`
	SpotCount int                     `json:"spot_count"`
	ROI       pipeline.Rectangle      `json:"roi"`
	Binarizer string                  `json:"binarizer"`
	Extractor string                  `json:"extractor"`
	Stats     pipeline.AreaStats      `json:"stats"`
	Quality   pipeline.QualityMetrics `json:"quality"`
	Spots     []pipeline.Point2D      `json:"centroids"`
	Warnings  []string                `json:"warnings,omitempty"`
}

func writeStages(ctx context.Context, archive storage.ResultArchive, runID, path string, res *pipeline.Result, format imageio.Format) (string, error) {
	artifacts := make([]storage.Artifact, 0, len(pipeline.Stages)+1)
	for _, stage := range pipeline.Stages {
		img, err := res.Image(stage)
		if err != nil {
			return "", err
		}
		data, err := imageio.Encode(img, format)
		if err != nil {
			return "", err
		}
		artifacts = append(artifacts, storage.Artifact{
			Name:        string(stage) + format.Extension(),
			ContentType: format.ContentType(),
			Data:        data,
		})
	}

	s := summary{
		Image:     path,
		SpotCount: res.SpotCount,
		ROI:       pipeline.RectangleFrom(res.ROI),
		Binarizer: res.Binarizer,
		Extractor: res.Extractor,
		Stats:     res.Stats,
		Quality:   res.Quality,
	}
	for _, spot := range res.Spots {
		s.Spots = append(s.Spots, spot.Centroid)
	}
	for _, w := range res.Warnings {
		s.Warnings = append(s.Warnings, w.Error())
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	artifacts = append(artifacts, storage.Artifact{Name: "summary.json", ContentType: "application/json", Data: data})

	return archive.Store(ctx, runID, artifacts)
}
