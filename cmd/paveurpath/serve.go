package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/paveurpath"
	"pkt.systems/pslog"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local web front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.HTTP.BasePath = basePath
			}
			app, err := paveurpath.New(toClientConfig(cfg), paveurpath.Deps{Logger: logger}, paveurpath.WithHTTP())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := app.Stop(stopCtx); err != nil {
					logger.Warn("client stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", cfg.HTTP.Addr, "base_path", cfg.HTTP.BasePath, "backend", cfg.Backend.Mode)
			if err := app.Start(ctx); err != nil {
				app.Close()
				return err
			}
			err = app.Wait()
			app.Close()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "URL prefix (overrides http.base_path)")
	return cmd
}
