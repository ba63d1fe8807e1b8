package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolov2/detector"
	"github.com/nvr-ai/go-yolov2/models/model"
	"github.com/nvr-ai/go-yolov2/profiler"
)

func (a *app) benchCmd() *cobra.Command {
	var (
		iterations int
		batch      int
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time forward passes on a synthetic batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if iterations <= 0 || batch <= 0 {
				return errors.Errorf("iterations and batch must be positive, got %d and %d", iterations, batch)
			}

			p := profiler.New(iterations)
			d, err := a.newDetector(cmd, detector.WithProfiler(p))
			if err != nil {
				return err
			}
			defer d.Close()

			x, err := syntheticBatch(batch, seed)
			if err != nil {
				return err
			}
			for i := 0; i < iterations; i++ {
				if _, err := d.Forward(x); err != nil {
					return errors.Wrapf(err, "iteration %d", i)
				}
			}

			p.Report(a.log)
			var data [][]string
			for _, s := range p.Snapshot() {
				data = append(data, []string{
					s.Name,
					fmt.Sprint(s.Count),
					s.Mean.Truncate(time.Microsecond).String(),
					s.Min.Truncate(time.Microsecond).String(),
					s.Max.Truncate(time.Microsecond).String(),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"OPERATION", "COUNT", "MEAN", "MIN", "MAX"}, data)
			return nil
		},
	}
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 10, "number of forward passes")
	cmd.Flags().IntVar(&batch, "batch", 1, "batch size")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed for the synthetic input")
	return cmd
}

// syntheticBatch returns a normalized batch of uniform noise.
func syntheticBatch(batch int, seed int64) (*tensor.Dense, error) {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, batch*3*model.InputSize*model.InputSize)
	for i := range data {
		data[i] = float32(rng.Intn(256))
	}
	raw := tensor.New(tensor.WithShape(batch, 3, model.InputSize, model.InputSize), tensor.WithBacking(data))
	return detector.Normalize(raw, detector.LayoutCHW)
}
