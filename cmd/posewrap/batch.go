package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/posewrap/internal/app"
	"github.com/ayusman/posewrap/internal/capture"
)

type batchOptions struct {
	stages   []string
	record   bool
	failFast bool
}

type batchSummary struct {
	Images   int
	Failed   int
	People   int
	Recorded int
}

func newBatchCmd(g *globals) *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch DIR",
		Short: "Detect keypoints in every image of a directory and record them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("stages") {
				opts.stages = nil
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			rt, err := open(cfg, opts.record)
			if err != nil {
				return err
			}
			defer rt.Close()

			src, err := capture.NewDirSource(args[0])
			if err != nil {
				return err
			}
			if src.Len() == 0 {
				return fmt.Errorf("no images found in %s", args[0])
			}

			sum, err := runBatch(cmd, rt, src, opts)
			fmt.Fprintf(cmd.ErrOrStderr(), "\n%d images, %d failed, %d people, %d recorded\n",
				sum.Images, sum.Failed, sum.People, sum.Recorded)
			return err
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.stages, "stages", nil, "optional stages to run after pose (face, hands); default every enabled stage")
	f.BoolVar(&opts.record, "record", true, "store the results in the snapshot database")
	f.BoolVar(&opts.failFast, "fail-fast", false, "stop at the first failing image")
	return cmd
}

func runBatch(cmd *cobra.Command, rt *runtime, src *capture.FileSource, opts *batchOptions) (batchSummary, error) {
	var sum batchSummary

	stages, err := parseStages(opts.stages, rt.session)
	if err != nil {
		return sum, err
	}

	if err := src.Open(); err != nil {
		return sum, err
	}
	defer src.Close()

	bar := progressbar.NewOptions(src.Len(),
		progressbar.OptionSetDescription("Detecting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	for {
		if err := cmd.Context().Err(); err != nil {
			return sum, err
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			break
		}
		sum.Images++
		if err != nil {
			sum.Failed++
			rt.log.Warn("skipping image", zap.String("path", src.Current()), zap.Error(err))
			if opts.failFast {
				return sum, err
			}
			bar.Add(1)
			continue
		}

		res, err := rt.session.Detect(*frame, app.DetectOptions{
			Stages: stages,
			Source: src.Current(),
			Record: opts.record,
		})
		frame.Close()
		if err != nil {
			sum.Failed++
			rt.log.Warn("detection failed", zap.String("path", src.Current()), zap.Error(err))
			if opts.failFast {
				return sum, fmt.Errorf("%s: %w", src.Current(), err)
			}
			bar.Add(1)
			continue
		}

		sum.People += res.People
		if res.Recorded {
			sum.Recorded++
		}
		bar.Add(1)
	}

	bar.Finish()
	return sum, nil
}
