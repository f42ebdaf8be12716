package main

import (
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/paveurpath"
	"pkt.systems/paveurpath/httpapi"
	"pkt.systems/paveurpath/internal/appconfig"
	"pkt.systems/pslog"
)

type rootFlags struct {
	configPath *string
	mock       *bool
}

func (f *rootFlags) load() (appconfig.Config, error) {
	cfg, err := appconfig.Load(*f.configPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	if *f.mock {
		cfg.Backend.Mode = appconfig.BackendModeMock
	}
	return cfg, nil
}

// openApp loads config and composes the client for a command.
func openApp(cmd *cobra.Command, flags *rootFlags, opts ...paveurpath.Option) (*paveurpath.App, appconfig.Config, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	logger := pslog.Ctx(cmd.Context())
	app, err := paveurpath.New(toClientConfig(cfg), paveurpath.Deps{Logger: logger}, opts...)
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	return app, cfg, nil
}

func toClientConfig(cfg appconfig.Config) paveurpath.Config {
	return paveurpath.Config{
		Chat: cfg.Chat.ChatSettings(),
		HTTP: httpapi.Config{
			Addr:       cfg.HTTP.Addr,
			BasePath:   cfg.HTTP.BasePath,
			HubHistory: cfg.HTTP.HubHistory,
		},
		State: paveurpath.StateConfig{
			Dir:          cfg.State.Dir,
			Namespace:    cfg.State.Namespace,
			Encrypt:      cfg.State.Encrypt,
			KeyStorePath: cfg.State.KeyStorePath,
		},
		Backend: paveurpath.BackendConfig{
			Mode:      cfg.Backend.Mode,
			BaseURL:   cfg.Backend.BaseURL,
			MockDelay: time.Duration(cfg.Backend.MockDelayMS) * time.Millisecond,
			Timeout:   time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		},
	}
}
