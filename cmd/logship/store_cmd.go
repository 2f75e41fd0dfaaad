package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/bft-labs/logship/internal/adapters/fs"
	"github.com/bft-labs/logship/internal/cliconfig"
	"github.com/bft-labs/logship/internal/domain"
)

// The store commands read and edit the offset store of a stopped agent.

func newDirsCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	dirs := &cobra.Command{
		Use:   "dirs",
		Short: "Inspect or edit the directories watched on start",
	}

	dirs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, cfg, *cfgPath)
			if err != nil {
				return err
			}
			list, err := store.ListWatchedDirectories()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No directories stored.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Directory"}, directoryRows(list), nil))
			return nil
		},
	})

	dirs.AddCommand(&cobra.Command{
		Use:   "add DIR",
		Short: "Store a directory to watch on the next start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, cfg, *cfgPath)
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return withStoreLock(cfg.StateFile, func() error {
				if err := store.AddDirectoryIfAbsent(dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored '%s'.\n", dir)
				return nil
			})
		},
	})

	dirs.AddCommand(&cobra.Command{
		Use:   "remove DIR",
		Short: "Remove a stored directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, cfg, *cfgPath)
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return withStoreLock(cfg.StateFile, func() error {
				if err := store.RemoveDirectory(dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed '%s'.\n", dir)
				return nil
			})
		},
	})

	return dirs
}

func newOffsetsCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	offsets := &cobra.Command{
		Use:   "offsets",
		Short: "Inspect stored per-file offsets",
	}
	offsets.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored file offsets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, cfg, *cfgPath)
			if err != nil {
				return err
			}
			records, err := store.ListTailerOffsets()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No offsets stored.")
				return nil
			}
			rows := make([][]string, len(records))
			for i, r := range records {
				rows[i] = []string{r.Path, strconv.FormatInt(r.Offset, 10)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Lines read"}, rows,
				[]columnAlignment{alignLeft, alignRight}))
			return nil
		},
	})
	return offsets
}

// openStore resolves the state file from config file, environment and flags.
func openStore(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) (*fs.OffsetStore, error) {
	if err := loadConfig(cmd, cfg, cfgPath); err != nil {
		return nil, err
	}
	applyLogLevel(cfg.LogLevel)
	return fs.NewOffsetStore(cfg.StateFile, nil), nil
}

// withStoreLock runs fn while holding the agent instance lock, so a running
// agent never has its store edited underneath it.
func withStoreLock(stateFile string, fn func() error) error {
	lock := flock.New(stateFile + ".lock")
	if err := os.MkdirAll(filepath.Dir(stateFile), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return domain.ErrInstanceLocked
	}
	defer lock.Unlock()
	return fn()
}
