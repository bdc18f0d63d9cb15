package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/ayusman/posewrap/internal/app"
	"github.com/ayusman/posewrap/internal/capture"
	"github.com/ayusman/posewrap/internal/render"
)

type detectOptions struct {
	stages  []string
	outDir  string
	record  bool
	heatmap int
	alpha   float64
	pretty  bool
}

func newDetectCmd(g *globals) *cobra.Command {
	opts := &detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect IMAGE...",
		Short: "Detect keypoints in images and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("stages") {
				opts.stages = nil
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if opts.heatmap >= 0 {
				cfg.DownloadHeatmaps = true
			}
			rt, err := open(cfg, opts.record)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runDetect(cmd, rt.session, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.stages, "stages", nil, "optional stages to run after pose (face, hands); default every enabled stage")
	f.StringVarP(&opts.outDir, "output", "o", "", "write rendered images to this directory")
	f.BoolVar(&opts.record, "record", false, "store the results in the snapshot database")
	f.IntVar(&opts.heatmap, "heatmap", -1, "also write an overlay of this heatmap channel (needs --output)")
	f.Float64Var(&opts.alpha, "alpha", 0.5, "heatmap overlay opacity")
	f.BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
	return cmd
}

func runDetect(cmd *cobra.Command, s *app.Session, paths []string, opts *detectOptions) error {
	stages, err := parseStages(opts.stages, s)
	if err != nil {
		return err
	}
	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if opts.pretty {
		enc.SetIndent("", "  ")
	}

	for _, path := range paths {
		if err := cmd.Context().Err(); err != nil {
			return err
		}

		img, err := capture.LoadImage(path)
		if err != nil {
			return err
		}

		res, err := s.Detect(img, app.DetectOptions{
			Stages: stages,
			Source: path,
			Record: opts.record,
			Render: opts.outDir != "",
		})
		if err != nil {
			img.Close()
			return fmt.Errorf("%s: %w", path, err)
		}

		if opts.outDir != "" {
			err = writeOutputs(s, img, res, path, opts)
		}
		res.Close()
		img.Close()
		if err != nil {
			return err
		}

		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return nil
}

func writeOutputs(s *app.Session, img gocv.Mat, res *app.Result, path string, opts *detectOptions) error {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	out := filepath.Join(opts.outDir, base+"_rendered.jpg")
	if ok := gocv.IMWrite(out, *res.Rendered); !ok {
		return fmt.Errorf("write %s", out)
	}

	if opts.heatmap < 0 {
		return nil
	}
	stack, err := s.Heatmaps()
	if err != nil {
		return err
	}
	overlay, err := render.HeatmapOverlay(img, stack, opts.heatmap, opts.alpha)
	if err != nil {
		return err
	}
	defer overlay.Close()

	out = filepath.Join(opts.outDir, fmt.Sprintf("%s_heatmap%02d.jpg", base, opts.heatmap))
	if ok := gocv.IMWrite(out, overlay); !ok {
		return fmt.Errorf("write %s", out)
	}
	return nil
}
