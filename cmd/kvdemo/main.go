// Command kvdemo is a thin, non-interactive external consumer of the
// kvstore operational surface: one subcommand per core operation except
// Close, which put and remove call before returning; flags decoded with
// github.com/spf13/cobra (see SPEC_FULL.md §6.1). It performs
// no interactive loop and carries no business logic of its own.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aklyosov/ikvs/internal/engineconfig"
	"github.com/aklyosov/ikvs/internal/obs"
	"github.com/aklyosov/ikvs/kvstore"
)

var (
	dataDir          string
	memtableCapacity int
	bufferCapacity   int
	lsmLayout        bool
	verbose          bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, engineconfig.ErrNotFound):
		return 2
	case errors.Is(err, engineconfig.ErrIndexMissing):
		return 3
	default:
		return 1
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvdemo",
		Short: "Drive the fixed-width ordered key/value store from the command line",
	}
	root.PersistentFlags().StringVar(&dataDir, "db", "ikvs-data", "database directory")
	root.PersistentFlags().IntVar(&memtableCapacity, "memtable-capacity", 1024, "memtable capacity before flush")
	root.PersistentFlags().IntVar(&bufferCapacity, "buffer-capacity", 256, "buffer cache page capacity")
	root.PersistentFlags().BoolVar(&lsmLayout, "lsm", false, "use the leveled LSM layout instead of the flat layout")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newPutCmd(), newGetCmd(), newScanCmd(), newRemoveCmd(), newBuildIndexCmd(), newGetViaIndexCmd(), newDeleteCmd())
	return root
}

func openStore() (*kvstore.Store, error) {
	cfg := engineconfig.DefaultConfig(dataDir)
	cfg.MemtableCapacity = memtableCapacity
	cfg.BufferCapacity = bufferCapacity
	if lsmLayout {
		cfg.Layout = engineconfig.LayoutLSM
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return kvstore.Open(cfg, obs.New(os.Stderr, level))
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Insert or update a key/value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value, err := parseKeyValue(args[0], args[1])
			if err != nil {
				return err
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			if err := s.Put(key, value); err != nil {
				return err
			}
			return s.Close()
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Look up a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseInt32(args[0])
			if err != nil {
				return err
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			v, err := s.Get(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <low> <high>",
		Short: "List every key/value pair in [low, high]",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			low, high, err := parseKeyValue(args[0], args[1])
			if err != nil {
				return err
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			pairs, err := s.Scan(low, high)
			if err != nil {
				return err
			}
			for _, p := range pairs {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\n", p.Key, p.Value)
			}
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseInt32(args[0])
			if err != nil {
				return err
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			if err := s.Remove(key); err != nil {
				return err
			}
			return s.Close()
		},
	}
}

func newBuildIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build-index",
		Short: "Build a static B-tree index over every run currently on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			return s.BuildStaticIndex()
		},
	}
}

func newGetViaIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-via-index <key>",
		Short: "Look up a key using the static B-tree index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseInt32(args[0])
			if err != nil {
				return err
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			v, err := s.GetViaIndex(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-db",
		Short: "Delete the entire database directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			return s.DeleteDB()
		},
	}
}

func parseInt32(s string) (int32, error) {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("kvdemo: %q is not an integer: %w", s, err)
	}
	if v < -1<<31 || v > 1<<31-1 {
		return 0, fmt.Errorf("kvdemo: %q out of int32 range", s)
	}
	return int32(v), nil
}

func parseKeyValue(a, b string) (int32, int32, error) {
	x, err := parseInt32(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := parseInt32(b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
