package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/depthrt"
	"github.com/knights-analytics/depthrt/backends"
	"github.com/knights-analytics/depthrt/options"
	"github.com/knights-analytics/depthrt/profiling"
	"github.com/knights-analytics/depthrt/util/fileutil"
	"github.com/knights-analytics/depthrt/util/imageutil"
	"github.com/knights-analytics/depthrt/util/safeconv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var modelPath string
var inputPath string
var outputPath string
var presetName string
var backendName string
var sharedLibraryPath string
var delegateCacheDir string
var iterations int

var modelFlag = &cli.StringFlag{
	Name:        "model",
	Usage:       "Path or URL of the .onnx model",
	Aliases:     []string{"p"},
	Destination: &modelPath,
	Required:    true,
}

var backendFlag = &cli.StringFlag{
	Name:        "backend",
	Usage:       "Backend to run the model with: ORT or GO",
	Aliases:     []string{"b"},
	Destination: &backendName,
	Value:       "ORT",
}

var sharedLibraryFlag = &cli.StringFlag{
	Name:        "onnxruntimeSharedLibrary",
	Usage:       "Directory containing the onnxruntime shared library",
	Aliases:     []string{"s"},
	Destination: &sharedLibraryPath,
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Estimate depth for one or more images",
	Description: `Run expects a path to an image or a folder of .png and .jpg images. Each image is
				converted with the chosen preset and run through the model.
				`,
	ArgsUsage: `
				--input: path to an image or a folder of images. If omitted, a single image is read from stdin.
				--output: folder where the colormapped depth maps are written as <name>-depth.png. If omitted, the depth values are written to stdout as json lines.
				--preset: midas or depthAnything.
				`,
	Flags: []cli.Flag{
		modelFlag,
		backendFlag,
		sharedLibraryFlag,
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to the input images",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to output",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "preset",
			Usage:       "Image preset: midas or depthAnything",
			Aliases:     []string{"t"},
			Destination: &presetName,
			Value:       "midas",
		},
		&cli.StringFlag{
			Name:        "delegateCache",
			Usage:       "Folder where hardware delegate artifacts are cached",
			Aliases:     []string{"c"},
			Destination: &delegateCacheDir,
		},
	},
	Action: func(ctx *cli.Context) (err error) {
		preset, err := presetByName(presetName)
		if err != nil {
			return err
		}
		r, err := newRuntime()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, r.Destroy())
		}()

		inputs, err := readImages(ctx.Context)
		if err != nil {
			return err
		}
		if outputPath != "" {
			if err := fileutil.CreateFile(outputPath, true); err != nil {
				return err
			}
		}

		encoder := json.NewEncoder(ctx.App.Writer)
		for _, in := range inputs {
			depth, err := depthrt.EstimateDepth(r, preset, in.Image)
			if err != nil {
				return fmt.Errorf("%s: %w", in.Name, err)
			}
			width, height := depthDims(r.OutputDescriptor().Shape, preset, len(depth))
			result := depthResult{Input: in.Name, Width: width, Height: height}
			result.Min, result.Max = depthRange(depth)
			if outputPath != "" {
				img, err := imageutil.DepthToImage(depth[:width*height], width, height)
				if err != nil {
					return err
				}
				result.Output = fileutil.PathJoinSafe(outputPath, strings.TrimSuffix(in.Name, filepath.Ext(in.Name))+"-depth.png")
				if err := imageutil.SavePNG(result.Output, img); err != nil {
					return err
				}
			} else {
				result.Depth = depth
			}
			if err := encoder.Encode(result); err != nil {
				return err
			}
		}
		return err
	},
}

var describeCommand = &cli.Command{
	Name:  "describe",
	Usage: "Print the input and output tensors of a model as json",
	Flags: []cli.Flag{modelFlag, backendFlag, sharedLibraryFlag},
	Action: func(ctx *cli.Context) (err error) {
		r, err := newRuntime()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, r.Destroy())
		}()

		description := modelDescription{
			Backend: r.Backend().Name(),
			Input:   newTensorInfo(r.InputDescriptor()),
			Output:  newTensorInfo(r.OutputDescriptor()),
		}
		out, err := json.MarshalIndent(description, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(ctx.App.Writer, string(out))
		return err
	},
}

var benchCommand = &cli.Command{
	Name:  "bench",
	Usage: "Time repeated runs of a model on a zero input",
	Flags: []cli.Flag{
		modelFlag,
		backendFlag,
		sharedLibraryFlag,
		&cli.IntFlag{
			Name:        "iterations",
			Usage:       "Number of runs",
			Aliases:     []string{"n"},
			Destination: &iterations,
			Value:       10,
		},
	},
	Action: func(ctx *cli.Context) (err error) {
		if iterations <= 0 {
			return fmt.Errorf("iterations must be positive, got %d", iterations)
		}
		frame := profiling.NewFrame("bench")
		r, err := newRuntime(options.WithProfilingFrame(frame))
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, r.Destroy())
		}()

		stats, err := benchmark(r, frame, iterations)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(ctx.App.Writer)
		table.SetHeader([]string{"Scope", "Calls", "Mean ms", "Total ms"})
		for _, s := range stats {
			table.Append([]string{
				s.Name,
				fmt.Sprintf("%d", s.Calls),
				fmt.Sprintf("%.3f", s.TotalMs/float64(s.Calls)),
				fmt.Sprintf("%.3f", s.TotalMs),
			})
		}
		table.Render()
		return err
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "depthrt",
		Usage:    "Monocular depth estimation with ONNX models",
		Commands: []*cli.Command{runCommand, describeCommand, benchCommand},
	}
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		panic(err)
	}
}

func newRuntime(extra ...options.WithOption) (*depthrt.Runtime, error) {
	var opts []options.WithOption
	if backendName == "ORT" {
		if sharedLibraryPath != "" {
			opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryPath))
		}
	}
	if delegateCacheDir != "" {
		opts = append(opts, options.WithDelegateCache(delegateCacheDir, filepath.Base(modelPath)))
	}
	opts = append(opts, extra...)

	modelBytes, err := depthrt.LoadModelBytes(modelPath)
	if err != nil {
		return nil, err
	}
	return depthrt.NewRuntime(backendName, modelBytes, opts...)
}

func presetByName(name string) (depthrt.Preset, error) {
	switch strings.ToLower(name) {
	case "midas":
		return depthrt.MiDaSPreset(), nil
	case "depthanything":
		return depthrt.DepthAnythingPreset(), nil
	default:
		return depthrt.Preset{}, fmt.Errorf("preset %s not implemented", name)
	}
}

type namedImage struct {
	Name  string
	Image image.Image
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

func readImages(ctx context.Context) ([]namedImage, error) {
	if inputPath == "" {
		if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return nil, fmt.Errorf("no --input given and nothing to read on stdin")
		}
		img, _, err := image.Decode(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("%w: stdin: %s", imageutil.ImageFailedToDecode, err.Error())
		}
		return []namedImage{{Name: "stdin", Image: img}}, nil
	}

	info, err := fileutil.FileStats(inputPath)
	if err != nil {
		return nil, fmt.Errorf("file %s does not exist", inputPath)
	}
	if !info.IsDir() {
		images, err := imageutil.LoadImagesFromPaths([]string{inputPath})
		if err != nil {
			return nil, err
		}
		return []namedImage{{Name: filepath.Base(inputPath), Image: images[0]}}, nil
	}

	var images []namedImage
	fileWalker := func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (toContinue bool, err error) {
		if info.IsDir() || !isImageFile(info.Name()) {
			return true, nil
		}
		img, _, err := image.Decode(reader)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %s", imageutil.ImageFailedToDecode, info.Name(), err.Error())
		}
		images = append(images, namedImage{Name: info.Name(), Image: img})
		return true, nil
	}
	if err := fileutil.WalkDir()(ctx, inputPath, fileWalker); err != nil {
		return nil, err
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// depthDims picks the depth map size from the trailing output dimensions.
// Outputs with a channel dimension render their first plane.
func depthDims(shape backends.Shape, preset depthrt.Preset, count int) (int, int) {
	if len(shape) >= 2 && shape.IsStatic() {
		height, width := safeconv.Int64ToInt(shape[len(shape)-2]), safeconv.Int64ToInt(shape[len(shape)-1])
		if width*height <= count {
			return width, height
		}
	}
	if preset.Width*preset.Height <= count {
		return preset.Width, preset.Height
	}
	return count, 1
}

func depthRange(depth []float32) (float32, float32) {
	if len(depth) == 0 {
		return 0, 0
	}
	lo, hi := depth[0], depth[0]
	for _, d := range depth[1:] {
		lo = min(lo, d)
		hi = max(hi, d)
	}
	return lo, hi
}

type depthResult struct {
	Input  string    `json:"input"`
	Output string    `json:"output,omitempty"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Min    float32   `json:"min"`
	Max    float32   `json:"max"`
	Depth  []float32 `json:"depth,omitempty"`
}

type tensorInfo struct {
	Name        string    `json:"name"`
	ElementType string    `json:"elementType"`
	Shape       []int64   `json:"shape"`
	Scales      []float32 `json:"scales,omitempty"`
	ZeroPoints  []int32   `json:"zeroPoints,omitempty"`
}

func newTensorInfo(d backends.TensorDescriptor) tensorInfo {
	info := tensorInfo{
		Name:        d.Name,
		ElementType: d.ElementType.String(),
		Shape:       d.Shape,
	}
	if d.Quantization != nil {
		info.Scales = d.Quantization.Scales
		info.ZeroPoints = d.Quantization.ZeroPoints
	}
	return info
}

type modelDescription struct {
	Backend string     `json:"backend"`
	Input   tensorInfo `json:"input"`
	Output  tensorInfo `json:"output"`
}

type scopeStats struct {
	Name    string
	Calls   int
	TotalMs float64
}

// elementCount replaces dynamic dimensions with 1.
func elementCount(shape backends.Shape) int {
	count := 1
	for _, d := range shape {
		if d > 0 {
			count *= safeconv.Int64ToInt(d)
		}
	}
	return count
}

func benchmark(r *depthrt.Runtime, frame *profiling.Frame, n int) ([]scopeStats, error) {
	in, out := r.InputDescriptor(), r.OutputDescriptor()
	inCount := elementCount(in.Shape)
	outCount := inCount
	if out.Shape.IsStatic() {
		outCount = out.Shape.FlattenedSize()
	}

	var run func() error
	switch {
	case (in.IsQuantized() || in.ElementType == backends.ElementTypeFloat32) &&
		(out.IsQuantized() || out.ElementType == backends.ElementTypeFloat32):
		input, output := make([]float32, inCount), make([]float32, outCount)
		run = func() error { return depthrt.Run(r, input, output) }
	case in.ElementType == backends.ElementTypeUint8 && out.ElementType == backends.ElementTypeUint8:
		input, output := make([]uint8, inCount), make([]uint8, outCount)
		run = func() error { return depthrt.Run(r, input, output) }
	default:
		return nil, fmt.Errorf("bench does not support %s -> %s models", in.ElementType, out.ElementType)
	}

	// session construction is not part of an iteration
	log.Debug().Str("scopes", frame.Finish()).Msg("Runtime construction")

	byName := map[string]*scopeStats{}
	var order []string
	for range n {
		if err := run(); err != nil {
			return nil, err
		}
		for _, record := range frame.Records() {
			s, ok := byName[record.Name]
			if !ok {
				s = &scopeStats{Name: record.Name}
				byName[record.Name] = s
				order = append(order, record.Name)
			}
			s.Calls++
			s.TotalMs += safeconv.DurationToMillis(record.Duration)
		}
		frame.Finish()
	}

	stats := make([]scopeStats, 0, len(order))
	for _, name := range order {
		stats = append(stats, *byName[name])
	}
	return stats, nil
}

