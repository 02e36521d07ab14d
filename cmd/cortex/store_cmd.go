package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/HendryAvila/cortex/internal/config"
	"github.com/HendryAvila/cortex/internal/knowledge"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge store counts",
	RunE:  runStatus,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the knowledge store as JSON",
	Long: `Dump every note, saved prompt, plan, session, and session event as a
single JSON document, hidden notes and ended sessions included. IDs and
timestamps are preserved so the dump can be imported elsewhere.`,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a JSON dump into the knowledge store",
	Long: `Merge a dump produced by "cortex export" into this store. Rows that
already exist are skipped, colliding prompt triggers are dropped, and
references to missing prompts or sessions are nulled out.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var exportOut string

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write the dump to a file instead of stdout")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

// openStore loads the config and opens the knowledge store directly,
// without going through the MCP server. Caller must Close it.
func openStore() (*knowledge.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	store, err := knowledge.New(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}
	return store, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Status()
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	fmt.Printf("Store: %s (%d bytes)\n\n", stats.DatabasePath, stats.DatabaseBytes)
	fmt.Printf("  Notes:      %d (%d hidden)\n", stats.Notes, stats.HiddenNotes)
	fmt.Printf("  Prompts:    %d\n", stats.Prompts)
	fmt.Printf("  Plans:      %d (%d open)\n", stats.Plans, stats.OpenPlans)
	fmt.Printf("  Sessions:   %d (%d events)\n", stats.Sessions, stats.Events)
	fmt.Printf("  Tags:       %d\n", stats.Tags)
	fmt.Printf("  Categories: %d\n", stats.Categories)

	if stats.ActiveSession != nil {
		title := stats.ActiveSession.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("\nActive session: %s (started %s)\n", title, stats.ActiveSession.StartedAt)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	data, err := store.Export()
	if err != nil {
		return fmt.Errorf("exporting: %w", err)
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	out = append(out, '\n')

	if exportOut == "" {
		_, err := os.Stdout.Write(out)
		return err
	}

	if err := os.WriteFile(exportOut, out, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", exportOut, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d notes, %d prompts, %d plans, %d sessions to %s\n",
		len(data.Notes), len(data.Prompts), len(data.Plans), len(data.Sessions), exportOut)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	var data knowledge.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	res, err := store.Import(data)
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}

	fmt.Printf("Imported %d notes, %d prompts, %d plans (%d steps), %d sessions, %d events\n",
		res.Notes, res.Prompts, res.Plans, res.Steps, res.Sessions, res.Events)
	if res.Skipped > 0 {
		fmt.Printf("Skipped %d rows that already exist\n", res.Skipped)
	}
	return nil
}
