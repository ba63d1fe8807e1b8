package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolov2/backbone"
	"github.com/nvr-ai/go-yolov2/config"
	"github.com/nvr-ai/go-yolov2/detector"
	"github.com/nvr-ai/go-yolov2/logger"
	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/models/model"
)

const defaultConfigPath = "config/config.yaml"

// LoaderFactory builds the backbone loader for a configuration.
type LoaderFactory func(cfg config.AppConfig, log *zap.Logger) (backbone.Loader, error)

func hubLoader(cfg config.AppConfig, log *zap.Logger) (*backbone.HubLoader, error) {
	return backbone.NewHubLoader(cfg.Hub,
		backbone.WithLogger(log),
		backbone.WithRuntime(cfg.Runtime))
}

func defaultLoader(cfg config.AppConfig, log *zap.Logger) (backbone.Loader, error) {
	hub, err := hubLoader(cfg, log)
	if err != nil {
		return nil, err
	}
	return hub, nil
}

type app struct {
	cfg       config.AppConfig
	log       *zap.Logger
	newLoader LoaderFactory
}

// NewCLI returns the yolov2 root command.
func NewCLI() *cobra.Command {
	return newCLI(defaultLoader)
}

func newCLI(newLoader LoaderFactory) *cobra.Command {
	a := &app{newLoader: newLoader, log: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "yolov2",
		Short: "YOLOv2 detector over a pretrained backbone",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("config") {
				if _, err := os.Stat(path); err != nil {
					path = ""
				}
			}
			if a.cfg, err = config.Load(path); err != nil {
				return err
			}
			a.log = logger.GetZapLogger(a.cfg.Log.Debug)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "configuration file")

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		a.pullCmd(),
		a.paramsCmd(),
		a.detectCmd(),
		a.benchCmd(),
		a.serveCmd(),
	)
	return rootCmd
}

func (a *app) pullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull [backbone...]",
		Short: "Download backbone weights into the cache",
		Long:  "Download backbone weights into the cache. Without arguments every supported backbone is fetched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := hubLoader(a.cfg, a.log)
			if err != nil {
				return err
			}

			names := models.Names()
			if len(args) > 0 {
				names = make([]model.Name, 0, len(args))
				for _, arg := range args {
					names = append(names, model.Name(arg))
				}
			}

			var data [][]string
			for _, name := range names {
				meta, err := hub.Fetch(cmd.Context(), name)
				if err != nil {
					return err
				}
				data = append(data, []string{string(meta.Name), meta.Path, meta.SHA256[:12]})
			}
			renderTable(cmd.OutOrStdout(), []string{"BACKBONE", "PATH", "SHA256"}, data)
			return nil
		},
	}
	return cmd
}

func (a *app) newDetector(cmd *cobra.Command, opts ...detector.Option) (*detector.Detector, error) {
	loader, err := a.newLoader(a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	opts = append(opts, detector.WithLogger(a.log))
	return detector.New(cmd.Context(), loader, a.cfg.Detector, opts...)
}

func (a *app) paramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "List detector parameters and their trainable flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.newDetector(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			var data [][]string
			for _, p := range d.Parameters() {
				shape := "-"
				if p.Shape != nil {
					shape = fmt.Sprintf("%v", p.Shape)
				}
				data = append(data, []string{p.Name, string(p.Group), shape, fmt.Sprint(p.Trainable)})
			}
			renderTable(cmd.OutOrStdout(), []string{"NAME", "GROUP", "SHAPE", "TRAINABLE"}, data)
			return nil
		},
	}
}

func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
