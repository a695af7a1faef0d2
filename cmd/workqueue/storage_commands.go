package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"workqueue/internal/queue"
)

func newStorageCommand(ctx *commandContext) *cobra.Command {
	storageCmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and register storage units",
	}
	storageCmd.AddCommand(newStorageListCommand(ctx))
	storageCmd.AddCommand(newStorageAddCommand(ctx))
	return storageCmd
}

func newStorageListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List storage units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				units, err := store.ListStorage(cmd.Context())
				if err != nil {
					return err
				}
				if len(units) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No storage units registered")
					return nil
				}
				columns := []column{
					{Header: "Key"},
					{Header: "State"},
					{Header: "Series", Align: alignRight},
					{Header: "Instances", Align: alignRight},
					{Header: "Updated"},
					{Header: "Path"},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(columns, buildStorageRows(units, time.Now())))
				return nil
			})
		},
	}
}

func newStorageAddCommand(ctx *commandContext) *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "add <key> [path]",
		Short: "Register a storage unit; the path defaults to <storage_root>/<key>",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			key := args[0]
			path := filepath.Join(cfg.Paths.StorageRoot, key)
			if len(args) == 2 {
				if path, err = filepath.Abs(args[1]); err != nil {
					return fmt.Errorf("resolve storage path: %w", err)
				}
			}
			if create {
				if err := os.MkdirAll(path, 0o755); err != nil {
					return fmt.Errorf("create storage directory: %w", err)
				}
			}
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat storage path: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("storage path %q is not a directory", path)
			}
			return ctx.withStore(func(store *queue.Store) error {
				unit, err := store.AddStorage(cmd.Context(), key, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered storage %s at %s\n", unit.Key, unit.Path)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "Create the directory when it does not exist")
	return cmd
}
