package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bruno-ai/bruno-memory/internal/config"
	"github.com/bruno-ai/bruno-memory/internal/model"
	"github.com/bruno-ai/bruno-memory/internal/platform/logger"
	"github.com/bruno-ai/bruno-memory/memoryengine"
)

var (
	userFlag string
	rootCmd  = &cobra.Command{
		Use:   "memoryctl",
		Short: "Maintenance CLI for the bruno-memory engine",
	}
)

func withEngine(fn func(cmd *cobra.Command, e *memoryengine.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		e, err := memoryengine.New(cmd.Context(), cfg,
			memoryengine.WithLogger(logger.NewConsole("memoryctl")))
		if err != nil {
			return err
		}
		defer func() { _ = e.Close() }()
		return fn(cmd, e, args)
	}
}

func requireUser() error {
	if userFlag == "" {
		return fmt.Errorf("--user required")
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User ID")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show backend statistics for a user",
		RunE: withEngine(func(cmd *cobra.Command, e *memoryengine.Engine, _ []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			stats, err := e.GetStatistics(cmd.Context(), userFlag)
			if err != nil {
				return err
			}
			return printJSON(stats)
		}),
	}
	rootCmd.AddCommand(statsCmd)

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove low-value memory entries for a user",
		RunE: withEngine(func(cmd *cobra.Command, e *memoryengine.Engine, _ []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			report, err := e.Prune(cmd.Context(), userFlag)
			if err != nil {
				return err
			}
			return printJSON(report)
		}),
	}
	rootCmd.AddCommand(pruneCmd)

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Compress old conversation history into an episodic memory",
		RunE: withEngine(func(cmd *cobra.Command, e *memoryengine.Engine, _ []string) error {
			conversation, _ := cmd.Flags().GetString("conversation")
			keep, _ := cmd.Flags().GetInt("keep")
			entry, err := e.CompactConversation(cmd.Context(), conversation, keep)
			if err != nil {
				return err
			}
			if entry == nil {
				fmt.Println("nothing to compact")
				return nil
			}
			return printJSON(entry)
		}),
	}
	compactCmd.Flags().StringP("conversation", "c", "", "Conversation ID (required)")
	compactCmd.Flags().IntP("keep", "k", 10, "Most recent messages to keep uncompressed")
	_ = compactCmd.MarkFlagRequired("conversation")
	rootCmd.AddCommand(compactCmd)

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search memories with hybrid scoring",
		RunE: withEngine(func(cmd *cobra.Command, e *memoryengine.Engine, _ []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			query, _ := cmd.Flags().GetString("query")
			topk, _ := cmd.Flags().GetInt("topk")
			got, err := e.RetrieveMemories(cmd.Context(), model.MemoryQuery{
				UserID: userFlag,
				Text:   query,
				Limit:  topk,
			})
			if err != nil {
				return err
			}
			return printJSON(got)
		}),
	}
	searchCmd.Flags().StringP("query", "q", "", "Query text")
	searchCmd.Flags().IntP("topk", "k", 10, "Number of results")
	rootCmd.AddCommand(searchCmd)

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}
	sessionStartCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session for a user",
		RunE: withEngine(func(cmd *cobra.Command, e *memoryengine.Engine, _ []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			s, err := e.CreateSession(cmd.Context(), userFlag, nil)
			if err != nil {
				return err
			}
			return printJSON(s)
		}),
	}
	sessionEndCmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, e *memoryengine.Engine, args []string) error {
			return e.EndSession(cmd.Context(), args[0])
		}),
	}
	sessionShowCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, e *memoryengine.Engine, args []string) error {
			s, err := e.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("session %s not found", args[0])
			}
			return printJSON(s)
		}),
	}
	sessionCmd.AddCommand(sessionStartCmd, sessionEndCmd, sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
