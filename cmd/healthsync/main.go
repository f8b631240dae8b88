package main

import (
	"context"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/healthsync/health/daemon"
	"tangled.sh/tangled.sh/healthsync/log"
)

func main() {
	cmd := &cli.Command{
		Name:    "healthsync",
		Usage:   "health record sync daemon and administration tool",
		Version: versioninfo.Short(),
		Commands: []*cli.Command{
			daemon.Command(),
			daemon.TypesCommand(),
			daemon.ResetCommand(),
			daemon.GrantCommand(),
		},
	}

	ctx := context.Background()
	logger := log.New("healthsync")
	ctx = log.IntoContext(ctx, logger.With("command", cmd.Name))

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
