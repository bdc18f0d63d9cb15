package main

import (
	"image"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/posewrap/internal/app"
	"github.com/ayusman/posewrap/internal/capture"
	"github.com/ayusman/posewrap/internal/server"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		addr      string
		camera    bool
		staticDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, optionally with a live camera pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("camera") {
				cfg.Camera.Enabled = camera
			}

			rt, err := open(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			var live *app.Live
			if cfg.Camera.Enabled {
				stages, err := parseStages(cfg.Camera.Stages, rt.session)
				if err != nil {
					return err
				}
				gate := capture.NewMotionGate(cfg.Camera.MotionThreshold, capture.IdleTimeout)
				defer gate.Close()

				live = app.NewLive(rt.session, app.LiveConfig{
					Source: capture.NewCamera(capture.CameraOptions{
						Device: cfg.Camera.Device,
						Size:   image.Pt(capture.DefaultWidth, capture.DefaultHeight),
						FPS:    cfg.Camera.FPS,
					}),
					Gate:   gate,
					Stages: stages,
					Record: cfg.Camera.Record,
				}, rt.log.Named("live"))
				if err := live.Start(); err != nil {
					return err
				}
				defer live.Stop()
			}

			if staticDir == "" {
				staticDir = findWebDir()
			}
			if staticDir != "" {
				rt.log.Info("serving static files", zap.String("dir", staticDir))
			}

			srv := server.New(server.Config{
				StaticDir: staticDir,
				Session:   rt.session,
				Store:     rt.store,
				Live:      live,
				Logger:    rt.log.Named("http"),
			})
			return srv.ListenAndServe(cmd.Context(), cfg.Server.Addr)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address; overrides the config file")
	f.BoolVar(&camera, "camera", false, "run the live camera pipeline; overrides the config file")
	f.StringVar(&staticDir, "static", "", "directory of static files to serve at /")
	return cmd
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.posewrap/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".posewrap", "web")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}
