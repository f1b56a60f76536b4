package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"arbor/internal/store"
)

var (
	replaySelection string
	replaySession   string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Inspect persisted selections and refinement sessions",
	Long: `Without flags, lists all persisted selections. With --selection or
--session, prints the full persisted document for audit.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replaySelection, "selection", "", "Selection id to print")
	replayCmd.Flags().StringVar(&replaySession, "session", "", "Refinement session id to print")
}

func runReplay(cmd *cobra.Command, args []string) error {
	s, err := store.NewStore(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer s.Close()

	switch {
	case replaySession != "":
		record, err := s.LoadSession(replaySession)
		if err != nil {
			return err
		}
		return printJSON(record)

	case replaySelection != "":
		record, err := s.LoadSelection(replaySelection)
		if err != nil {
			return err
		}
		return printJSON(record)

	default:
		records, err := s.ListSelections()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no persisted selections")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %s  %s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Request)
		}
		return nil
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
