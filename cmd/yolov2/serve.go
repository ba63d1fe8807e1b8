package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolov2/detector"
	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/pipeline"
	"github.com/nvr-ai/go-yolov2/profiler"
	"github.com/nvr-ai/go-yolov2/server"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve detections over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}

			p := profiler.New(0)
			d, err := a.newDetector(cmd, detector.WithProfiler(p))
			if err != nil {
				return err
			}
			defer d.Close()

			pl := pipeline.New(d, a.cfg.Postprocess, pipeline.WithProfiler(p))
			srv := server.New(cfg, pl, models.LabelsFor(d.NbClass()),
				server.WithLogger(a.log),
				server.WithProfiler(p)).HTTPServer()

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return errors.Wrapf(err, "failed to listen on %s", cfg.Addr)
			}
			a.log.Info("listening", zap.String("addr", ln.Addr().String()))

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Serve(ln)
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
				a.log.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				p.Report(a.log)
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
