package main

import (
	"fmt"
	"image"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolov2/detector"
	"github.com/nvr-ai/go-yolov2/images"
	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/models/postprocess"
	"github.com/nvr-ai/go-yolov2/pipeline"
	"github.com/nvr-ai/go-yolov2/util"
)

type namedImage struct {
	path string
	img  image.Image
}

func (a *app) detectCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "detect <image|dir>...",
		Short: "Detect objects in images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch <= 0 {
				return errors.Errorf("invalid batch size %d", batch)
			}
			inputs, err := collectImages(args)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return errors.New("no images found")
			}

			d, err := a.newDetector(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			labels := models.LabelsFor(d.NbClass())
			var data [][]string
			for start := 0; start < len(inputs); start += batch {
				chunk := inputs[start:min(start+batch, len(inputs))]
				results, err := a.detect(d, chunk)
				if err != nil {
					return err
				}
				for i, found := range results {
					for _, r := range found {
						data = append(data, []string{
							chunk[i].path,
							labels.Name(r.Class),
							fmt.Sprintf("%.3f", r.Score),
							fmt.Sprintf("%.0f,%.0f,%.0f,%.0f", r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2),
						})
					}
				}
			}
			renderTable(cmd.OutOrStdout(), []string{"IMAGE", "LABEL", "SCORE", "BOX"}, data)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 8, "images per forward pass")
	return cmd
}

// detect runs one batch and returns detections in source image pixels.
func (a *app) detect(d *detector.Detector, chunk []namedImage) ([][]postprocess.Result, error) {
	imgs := make([]image.Image, len(chunk))
	for i, c := range chunk {
		imgs[i] = c.img
	}
	results, err := pipeline.New(d, a.cfg.Postprocess).Detect(imgs)
	if err != nil {
		return nil, err
	}
	for i, found := range results {
		a.log.Debug("detections",
			zap.String("image", chunk[i].path),
			zap.Int("count", len(found)))
	}
	return results, nil
}

func collectImages(paths []string) ([]namedImage, error) {
	var out []namedImage
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat %s", p)
		}
		if !info.IsDir() {
			img, err := images.Load(p)
			if err != nil {
				return nil, err
			}
			out = append(out, namedImage{path: p, img: img})
			continue
		}

		files, err := util.LoadDirectoryImageFiles(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			img, err := images.DecodeFormat(f.Data, f.Format)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to decode %s", f.Path)
			}
			out = append(out, namedImage{path: f.Path, img: img})
		}
	}
	return out, nil
}
