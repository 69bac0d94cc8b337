package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/atmx/flow-engine/internal/client"
)

func main() {
	app := &cli.App{
		Name:  "flow-client",
		Usage: "Reference client that answers flow allocation problems",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "ws://localhost:8080/api/v1/ws",
				Usage:   "specify the server WebSocket endpoint",
				EnvVars: []string{"FLOW_URL"},
			},
			&cli.StringFlag{
				Name:  "mode",
				Value: client.ModeOptimal,
				Usage: "specify the allocation strategy (optimal or even)",
			},
			&cli.Float64Flag{
				Name:  "pit",
				Value: 0,
				Usage: "specify the pit capacity to request (0 keeps flows balanced)",
			},
			&cli.IntFlag{
				Name:  "levels",
				Value: 0,
				Usage: "override the optimizer's sampling levels",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: func(ctx *cli.Context) error {
			var (
				url    = ctx.String("url")
				mode   = ctx.String("mode")
				pit    = ctx.Float64("pit")
				levels = ctx.Int("levels")
			)
			if mode != client.ModeOptimal && mode != client.ModeEven {
				return errors.New("invalid mode")
			}
			if pit < 0 {
				return errors.New("invalid pit")
			}

			level := slog.LevelInfo
			if ctx.Bool("debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

			r := client.NewResponder(mode, pit)
			if levels > 0 {
				r.Opt.Levels = levels
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return client.Run(runCtx, url, r)
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Println("Error: ", err)
		os.Exit(1)
	}
}
