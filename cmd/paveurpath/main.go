package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	envErr := godotenv.Load()
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("dotenv load failed", "err", envErr)
	}

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("paveurpath command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paveurpath",
		Short:         "Immigration assistant client with a local web UI and terminal chat",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	var cfgPath string
	var mock bool
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVar(&mock, "mock", false, "use the simulated backend")

	flags := &rootFlags{configPath: &cfgPath, mock: &mock}
	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newChatCmd(flags))
	root.AddCommand(newSignInCmd(flags))
	root.AddCommand(newSignUpCmd(flags))
	root.AddCommand(newSignOutCmd(flags))
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}
