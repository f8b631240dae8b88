package daemon

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/healthsync/health/config"
	"tangled.sh/tangled.sh/healthsync/health/internal/tokenstore"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/permission"
	"tangled.sh/tangled.sh/healthsync/log"
)

func TypesCommand() *cli.Command {
	return &cli.Command{
		Name:  "types",
		Usage: "list supported record types and their permissions",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			for _, t := range models.All() {
				fmt.Fprintf(w, "%-24s %s %s\n", t.ID(), t.ReadPermission, t.WritePermission)
			}
			return nil
		},
	}
}

// ResetCommand deletes the stored changes token of a type, so the next
// collection starts from a fresh token. Run it while the daemon is down.
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "forget the sync position of a record type",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Usage:    "record type id, see `types`",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			t, err := models.ByID(cmd.String("type"))
			if err != nil {
				return err
			}

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, closeStore, err := config.OpenStore(cfg.Storage, log.FromContext(ctx))
			if err != nil {
				return err
			}
			defer closeStore()

			if err := tokenstore.New(store).Delete(ctx, t); err != nil {
				return fmt.Errorf("failed to delete changes token: %w", err)
			}
			log.FromContext(ctx).Info("changes token deleted", "type", t.ID())
			return nil
		},
	}
}

func GrantCommand() *cli.Command {
	return &cli.Command{
		Name:  "grant",
		Usage: "grant permissions to the app",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "permission",
				Usage:    "permission to grant, repeatable",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "revoke",
				Usage: "revoke instead of grant",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			e, err := permission.NewEnforcer(cfg.Permissions.DBPath, cfg.Server.App)
			if err != nil {
				return fmt.Errorf("failed to setup permission enforcer: %w", err)
			}

			perms := cmd.StringSlice("permission")
			if cmd.Bool("revoke") {
				err = e.Revoke(perms...)
			} else {
				err = e.Grant(perms...)
			}
			if err != nil {
				return err
			}
			log.FromContext(ctx).Info("permissions updated", "permissions", perms, "revoked", cmd.Bool("revoke"))
			return nil
		},
	}
}
