package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	internal "github.com/Disentinel/rfdb/rfdb"
	"github.com/Disentinel/rfdb/rfdb/config"
	"github.com/Disentinel/rfdb/rfdb/graph"
	"github.com/Disentinel/rfdb/rfdb/storage"
)

var (
	cfgPath   string
	storePath string

	logger = internal.GetLogger()
)

var rootCmd = &cobra.Command{
	Use:   internal.DefaultAppCMDShortCut + " [subcommand]",
	Short: "Disk-backed graph store for code analysis",
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func openEngine() (*graph.Engine, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	path := storePath
	if path == "" {
		path = cfg.Store.Path
	}
	level := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		level = slog.LevelDebug
	}
	return graph.Open(path, graph.Options{
		AutoFlushThreshold: cfg.Store.AutoFlushThreshold,
		FileIndex:          cfg.Store.FileIndex,
		Logger:             slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	})
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print node and edge counts for the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "store:      %s\n", e.Path())
		fmt.Fprintf(cmd.OutOrStdout(), "generation: %s\n", orNone(e.Generation()))
		fmt.Fprintf(cmd.OutOrStdout(), "nodes:      %d\n", e.NodeCount())
		fmt.Fprintf(cmd.OutOrStdout(), "edges:      %d\n", e.EdgeCount())
		if versions := e.Versions(); len(versions) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "overlays:   %s\n", strings.Join(versions, ", "))
		}

		counts := e.CountNodesByKind("*")
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %d\n", k, counts[k])
		}
		return nil
	},
}

var getVersion string

var getCmd = &cobra.Command{
	Use:   "get <node-id>",
	Short: "Resolve a node by its hex ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := storage.ParseNodeID(args[0])
		if err != nil {
			return err
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		rec, ok := e.GetNode(id, getVersion)
		if !ok {
			return fmt.Errorf("node %s not found", id)
		}
		printNode(cmd, &rec)
		return nil
	},
}

var (
	findKind string
	findName string
	findFile string
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find nodes by attribute (kind supports a trailing * wildcard)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if findKind == "" && findName == "" && findFile == "" {
			return fmt.Errorf("at least one of --kind, --name, --file is required")
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		ids := e.FindByAttr(storage.AttrQuery{
			Version: getVersion,
			Kind:    findKind,
			Name:    findName,
			File:    findFile,
		})
		for _, id := range ids {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, e.NodeIdentifier(id))
		}
		logger.Info().Int("matches", len(ids)).Msg("find finished")
		return nil
	},
}

var (
	bfsDepth int
	bfsTypes []string
)

var bfsCmd = &cobra.Command{
	Use:   "bfs <seed-node-id>...",
	Short: "Breadth-first traversal from seed nodes (seeds excluded from output)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seeds := make([]storage.NodeID, 0, len(args))
		for _, arg := range args {
			id, err := storage.ParseNodeID(arg)
			if err != nil {
				return err
			}
			seeds = append(seeds, id)
		}
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		for _, id := range e.BFS(seeds, bfsDepth, bfsTypes) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, e.NodeIdentifier(id))
		}
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Persist pending delta entries to the write-ahead log",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		if err := e.Flush(); err != nil {
			return err
		}
		logger.Info().Msg("flushed")
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Fold the delta log into a fresh segment generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		if err := e.Compact(); err != nil {
			return err
		}
		logger.Info().Str("generation", e.Generation()).Msg("compacted")
		return nil
	},
}

func printNode(cmd *cobra.Command, rec *storage.NodeRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id:       %s\n", rec.ID)
	fmt.Fprintf(out, "kind:     %s\n", rec.Kind)
	fmt.Fprintf(out, "name:     %s\n", rec.Name)
	if rec.File != "" {
		fmt.Fprintf(out, "file:     %s\n", rec.File)
	}
	fmt.Fprintf(out, "version:  %s\n", rec.Version)
	fmt.Fprintf(out, "exported: %t\n", rec.Exported)
	if !rec.Replaces.IsZero() {
		fmt.Fprintf(out, "replaces: %s\n", rec.Replaces)
	}
	if rec.Metadata != "" {
		fmt.Fprintf(out, "metadata: %s\n", rec.Metadata)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "store directory (overrides config)")

	getCmd.Flags().StringVar(&getVersion, "version", "", "overlay version to resolve under")
	findCmd.Flags().StringVar(&getVersion, "version", "", "overlay version to resolve under")
	findCmd.Flags().StringVar(&findKind, "kind", "", "node kind, trailing * matches a namespace")
	findCmd.Flags().StringVar(&findName, "name", "", "exact node name")
	findCmd.Flags().StringVar(&findFile, "file", "", "exact file path")
	bfsCmd.Flags().IntVar(&bfsDepth, "depth", 1, "maximum number of hops")
	bfsCmd.Flags().StringSliceVar(&bfsTypes, "type", nil, "edge types to follow (default all)")

	rootCmd.AddCommand(statsCmd, getCmd, findCmd, bfsCmd, flushCmd, compactCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
