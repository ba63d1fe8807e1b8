package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-yolov2/backbone"
	"github.com/nvr-ai/go-yolov2/config"
	"github.com/nvr-ai/go-yolov2/detector"
	"github.com/nvr-ai/go-yolov2/logger"
	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/models/postprocess"
	"github.com/nvr-ai/go-yolov2/pipeline"
	"github.com/nvr-ai/go-yolov2/profiler"
)

type options struct {
	configPath string
	deviceID   int
	videoPath  string
	showWindow bool
	saveDir    string
	every      int
}

func main() {
	var o options
	cmd := &cobra.Command{
		Use:          "webcam",
		Short:        "Run the detector on a camera or video stream",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVarP(&o.configPath, "config", "c", "config/config.yaml", "configuration file")
	cmd.Flags().IntVar(&o.deviceID, "device", 0, "video capture device")
	cmd.Flags().StringVar(&o.videoPath, "video", "", "video file to read instead of the camera")
	cmd.Flags().BoolVar(&o.showWindow, "show-window", false, "show annotated frames")
	cmd.Flags().StringVar(&o.saveDir, "save-dir", "", "directory for frames with detections")
	cmd.Flags().IntVar(&o.every, "every", 1, "run the detector on every n-th frame")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cobra.CheckErr(cmd.ExecuteContext(ctx))
}

func run(ctx context.Context, o options) error {
	if o.every <= 0 {
		return errors.Errorf("invalid frame interval %d", o.every)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	log := logger.GetZapLogger(cfg.Log.Debug)

	hub, err := backbone.NewHubLoader(cfg.Hub, backbone.WithLogger(log), backbone.WithRuntime(cfg.Runtime))
	if err != nil {
		return err
	}
	p := profiler.New(0)
	d, err := detector.New(ctx, hub, cfg.Detector, detector.WithLogger(log), detector.WithProfiler(p))
	if err != nil {
		return err
	}
	defer d.Close()
	pl := pipeline.New(d, cfg.Postprocess, pipeline.WithProfiler(p))

	var source any = o.deviceID
	if o.videoPath != "" {
		source = o.videoPath
	}
	webcam, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return errors.Wrapf(err, "error opening video source %v", source)
	}
	defer webcam.Close()

	var window *gocv.Window
	if o.showWindow {
		window = gocv.NewWindow("YOLOv2")
		defer window.Close()
	}
	if o.saveDir != "" {
		if err := os.MkdirAll(o.saveDir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", o.saveDir)
		}
	}

	img := gocv.NewMat()
	defer img.Close()

	labels := models.LabelsFor(d.NbClass())
	green := color.RGBA{0, 255, 0, 0}

	// FPS tracking variables
	fps := 0.0
	frameCount := 0
	lastTime := time.Now()
	lastReport := time.Now()

	log.Info("start reading video source", zap.Any("source", source))
	for frame := 0; ; frame++ {
		if ctx.Err() != nil {
			p.Report(log)
			return nil
		}
		if ok := webcam.Read(&img); !ok {
			log.Info("video source closed", zap.Any("source", source))
			p.Report(log)
			return nil
		}
		if img.Empty() {
			continue
		}

		frameCount++
		if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = time.Now()
		}
		if frame%o.every != 0 {
			continue
		}

		found, err := detectFrame(pl, img, p)
		if err != nil {
			return errors.Wrapf(err, "frame %d", frame)
		}

		names := make([]string, len(found))
		for i, r := range found {
			names[i] = labels.Name(r.Class)
			rect := image.Rect(int(r.Box.X1), int(r.Box.Y1), int(r.Box.X2), int(r.Box.Y2))
			gocv.Rectangle(&img, rect, green, 2)
			gocv.PutText(&img, fmt.Sprintf("%s %.2f", names[i], r.Score),
				image.Pt(rect.Min.X, max(rect.Min.Y-4, 12)), gocv.FontHersheyPlain, 1.2, green, 2)
		}
		log.Info("frame",
			zap.Int("frame", frame),
			zap.Float64("fps", fps),
			zap.Strings("detections", names))

		if o.saveDir != "" && len(found) > 0 {
			path := filepath.Join(o.saveDir, fmt.Sprintf("frame-%d.jpg", frame))
			if !gocv.IMWrite(path, img) {
				log.Warn("failed to save frame", zap.String("path", path))
			}
		}
		if window != nil {
			window.IMShow(img)
			window.WaitKey(1)
		}
		if time.Since(lastReport) >= 10*time.Second {
			p.Report(log)
			lastReport = time.Now()
		}
	}
}

// detectFrame runs the pipeline on one BGR frame and returns detections in
// frame pixels.
func detectFrame(pl *pipeline.Pipeline, mat gocv.Mat, p *profiler.Profiler) ([]postprocess.Result, error) {
	defer p.StartOperation("frame")()

	frame, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert frame")
	}
	results, err := pl.Detect([]image.Image{frame})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}
