package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"guildpulse/internal/config"
	"guildpulse/internal/storage"

	"github.com/spf13/cobra"
)

func newDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "dump <document>",
		Short:     "Print a stored document as indented JSON",
		Args:      cobra.ExactArgs(1),
		ValidArgs: storage.DocumentNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !slices.Contains(storage.DocumentNames, name) {
				return fmt.Errorf("unknown document %q, expected one of %v", name, storage.DocumentNames)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			backend, err := storage.Open(cmd.Context(), cfg.StorageOptions())
			if err != nil {
				return err
			}
			defer backend.Close()

			data, err := backend.Load(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("load %s: %w", name, err)
			}
			var out bytes.Buffer
			if err := json.Indent(&out, data, "", "  "); err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}
			out.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(out.Bytes())
			return err
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var target storage.Options
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every document from the configured backend to another one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			source := cfg.StorageOptions()
			if storage.NormalizeDriver(target.Driver) == storage.NormalizeDriver(source.Driver) {
				return fmt.Errorf("source and target both use the %s driver", storage.NormalizeDriver(source.Driver))
			}
			from, err := storage.Open(cmd.Context(), source)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer from.Close()
			to, err := storage.Open(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("open target: %w", err)
			}
			defer to.Close()

			copied, err := storage.Copy(cmd.Context(), from, to, storage.DocumentNames)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied %d of %d documents from %s to %s\n", copied, len(storage.DocumentNames), storage.NormalizeDriver(source.Driver), storage.NormalizeDriver(target.Driver))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&target.Driver, "to", "", "target driver (file, bolt, sqlite, postgres)")
	flags.StringVar(&target.Dir, "to-dir", "data", "target directory for the file driver")
	flags.StringVar(&target.Path, "to-path", "data/guildpulse.db", "target database file for bolt and sqlite")
	flags.StringVar(&target.URL, "to-url", "", "target connection string for postgres")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
