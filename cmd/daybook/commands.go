package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/daybook/internal/api"
	"github.com/kalambet/daybook/internal/config"
	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/pipeline"
)

// --- entry ---

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Add or list journal entries",
}

var entryAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add a journal entry",
	Long: `Add a journal entry.

Examples:
  daybook entry add "Hiked with Sarah, felt great"
  daybook entry add --date 2026-03-01 --file ./march-1.md
  daybook entry add --pdf ./scan.pdf`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		file, _ := cmd.Flags().GetString("file")
		pdfPath, _ := cmd.Flags().GetString("pdf")

		req, err := buildEntryRequest(args, date, file, pdfPath)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var entry graph.Entry
		if err := client.call(cmd.Context(), http.MethodPost, "/entries", req, &entry); err != nil {
			return err
		}

		printSuccess("Stored entry %s for %s", entry.ID, entry.Date.Format(graph.DateLayout))
		return nil
	},
}

// buildEntryRequest turns the add command's inputs into a request body.
// Exactly one of text, --file and --pdf must be given.
func buildEntryRequest(args []string, date, file, pdfPath string) (api.EntryRequest, error) {
	req := api.EntryRequest{Date: date, Type: "text"}
	given := 0
	if len(args) == 1 {
		req.Content = args[0]
		given++
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return req, fmt.Errorf("reading file: %w", err)
		}
		req.Content = string(data)
		given++
	}
	if pdfPath != "" {
		data, err := os.ReadFile(pdfPath)
		if err != nil {
			return req, fmt.Errorf("reading pdf: %w", err)
		}
		req.Type = "pdf"
		req.Content = encodeBase64(data)
		given++
	}
	if given != 1 {
		return req, errors.New("exactly one of text, --file or --pdf is required")
	}
	if date != "" {
		if _, err := graph.ParseDate(date); err != nil {
			return req, fmt.Errorf("--date must be YYYY-MM-DD")
		}
	}
	return req, nil
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if from != "" {
			q.Set("from", from)
		}
		if to != "" {
			q.Set("to", to)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var entries []graph.Entry
		if err := client.call(cmd.Context(), http.MethodGet, "/entries?"+q.Encode(), nil, &entries); err != nil {
			return err
		}
		renderEntries(entries)
		return nil
	},
}

func renderEntries(entries []graph.Entry) {
	if len(entries) == 0 {
		printf("No entries.\n")
		return
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tID\tSTATE\tEXCERPT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Date.Format(graph.DateLayout), e.ID, stateLabel(e.State), e.Excerpt(60))
	}
	tw.Flush()
}

func stateLabel(s graph.ProcessingState) string {
	switch {
	case s.IsRelationshipsDiscovered:
		return "discovered"
	case s.IsEntitiesExtracted:
		return "extracted"
	default:
		return "new"
	}
}

var entryShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show an entry with its entities and relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var detail api.EntryDetail
		if err := client.call(cmd.Context(), http.MethodGet, "/entries/"+url.PathEscape(args[0]), nil, &detail); err != nil {
			return err
		}
		renderEntryDetail(detail)
		return nil
	},
}

func renderEntryDetail(d api.EntryDetail) {
	printf("%s %s (%s)\n\n%s\n", bold(d.Entry.Date.Format(graph.DateLayout)), d.Entry.ID, stateLabel(d.Entry.State), d.Entry.Content)

	names := make(map[string]string, len(d.Entities))
	if len(d.Entities) > 0 {
		printf("\n%s\n", bold("Entities:"))
	}
	for _, e := range d.Entities {
		names[e.ID] = e.Value
		printf("  %-8s %s (%.2f)\n", e.Type, e.Value, e.Confidence)
	}
	if len(d.Relationships) > 0 {
		printf("\n%s\n", bold("Relationships:"))
	}
	for _, r := range d.Relationships {
		from, to := names[r.FromEntityID], names[r.ToEntityID]
		if from == "" {
			from = r.FromEntityID
		}
		if to == "" {
			to = r.ToEntityID
		}
		printf("  %s -%s-> %s: %s\n", from, r.Type, to, excerpt(r.Evidence, evidenceExcerptRunes))
	}
}

var entryDeleteCmd = &cobra.Command{
	Use:   "delete <entry-id>",
	Short: "Delete an entry; its entities are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodDelete, "/entries/"+url.PathEscape(args[0]), nil, &result); err != nil {
			return err
		}
		printSuccess("Deleted entry %s", args[0])
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entities no entry or relationship refers to",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result struct {
			Pruned int `json:"pruned"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/entities/prune", nil, &result); err != nil {
			return err
		}
		printSuccess("Pruned %d orphan entities", result.Pruned)
		return nil
	},
}

func init() {
	entryAddCmd.Flags().String("date", "", "entry day, YYYY-MM-DD (default today)")
	entryAddCmd.Flags().String("file", "", "read the entry text from a file")
	entryAddCmd.Flags().String("pdf", "", "extract the entry text from a PDF")
	entryListCmd.Flags().Int("limit", 20, "maximum number of entries")
	entryListCmd.Flags().String("from", "", "earliest day, YYYY-MM-DD")
	entryListCmd.Flags().String("to", "", "latest day, YYYY-MM-DD")
	entryCmd.AddCommand(entryAddCmd)
	entryCmd.AddCommand(entryListCmd)
	entryCmd.AddCommand(entryShowCmd)
	entryCmd.AddCommand(entryDeleteCmd)
}

// --- batches ---

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract entities from every pending entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		return startBatch(cmd.Context(), graph.StageExtraction, follow)
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover relationships in every extracted entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		return startBatch(cmd.Context(), graph.StageDiscovery, follow)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the running batch after the current entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := client.call(cmd.Context(), http.MethodPost, "/batches/cancel", nil, &result); err != nil {
			return err
		}
		if !result["cancelled"] {
			printWarning("No batch is running")
			return nil
		}
		printSuccess("Cancellation requested; the current entry will finish")
		return nil
	},
}

func startBatch(ctx context.Context, stage graph.Stage, follow bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var result struct {
		Queued int `json:"queued"`
	}
	if err := client.call(ctx, http.MethodPost, "/batches/"+string(stage), nil, &result); err != nil {
		return err
	}
	printSuccess("Started %s over %d entries", stage, result.Queued)
	if !follow || result.Queued == 0 {
		return nil
	}
	return followBatch(ctx, client, time.Second)
}

// followBatch polls the batch status until it stops running.
func followBatch(ctx context.Context, client *apiClient, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	lastProcessed := -1
	for {
		var st pipeline.Status
		if err := client.call(ctx, http.MethodGet, "/batches/status", nil, &st); err != nil {
			return err
		}

		if p := st.Progress; p != nil && p.Processed != lastProcessed && p.Processed > 0 {
			lastProcessed = p.Processed
			printStep("[%d/%d] %s", p.Processed, p.Total, p.Excerpt)
		}
		if !st.Running {
			return reportBatch(st)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func reportBatch(st pipeline.Status) error {
	if st.LastError != "" {
		return fmt.Errorf("batch aborted: %s", st.LastError)
	}
	if st.Last == nil {
		return nil
	}
	r := st.Last
	for _, f := range r.Failures {
		printWarning("entry %s skipped: %s", f.EntryID, f.Error)
	}
	msg := fmt.Sprintf("%s: %d processed, %d succeeded, %d skipped, %d failed, %d created",
		r.Stage, r.Processed, r.Succeeded, r.Skipped, len(r.Failures), r.Created)
	if r.Cancelled {
		printWarning("%s (cancelled)", msg)
		return nil
	}
	printSuccess("%s", msg)
	return nil
}

func init() {
	extractCmd.Flags().BoolP("follow", "f", false, "wait for the batch and show progress")
	discoverCmd.Flags().BoolP("follow", "f", false, "wait for the batch and show progress")
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset <entry-id>",
	Short: "Mark an entry for reprocessing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, _ := cmd.Flags().GetString("stage")
		if !graph.Stage(stage).Valid() {
			return fmt.Errorf("--stage must be extraction or discovery")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodPost, "/entries/"+url.PathEscape(args[0])+"/reset?stage="+stage, nil, &result); err != nil {
			return err
		}
		printSuccess("Entry %s will be reprocessed from %s", args[0], stage)
		return nil
	},
}

func init() {
	resetCmd.Flags().String("stage", string(graph.StageExtraction), "stage to reset: extraction (also resets discovery) or discovery")
}

// --- related ---

var relatedCmd = &cobra.Command{
	Use:   "related [YYYY-MM-DD]",
	Short: "Show entries related to the entry written on a day (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		if len(args) == 1 {
			if _, err := graph.ParseDate(args[0]); err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD")
			}
			q.Set("date", args[0])
		}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var related []api.RelatedResult
		if err := client.call(cmd.Context(), http.MethodGet, "/related?"+q.Encode(), nil, &related); err != nil {
			return err
		}
		renderRelated(related)
		return nil
	},
}

func renderRelated(related []api.RelatedResult) {
	if len(related) == 0 {
		printf("No related entries.\n")
		return
	}
	for _, r := range related {
		printf("%s  %s %s  %s\n", bold(r.Entry.Date.Format(graph.DateLayout)),
			levelColor(string(r.Level)), strconv.FormatFloat(r.Score, 'f', 2, 64), r.Reason)
		printf("    %s\n", r.Entry.Excerpt(100))
	}
}

func init() {
	relatedCmd.Flags().Int("limit", 0, "maximum number of entries (default from config)")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph statistics and the processing backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var st api.Stats
		if err := client.call(cmd.Context(), http.MethodGet, "/stats", nil, &st); err != nil {
			return err
		}
		renderStats(st)
		return nil
	},
}

func renderStats(st api.Stats) {
	printf("%s %d (%d pending extraction, %d pending discovery)\n",
		bold("Entries:"), st.Entries, st.Pending.Extraction, st.Pending.Discovery)

	printf("%s %d\n", bold("Entities:"), st.Extraction.TotalEntities)
	for _, t := range graph.EntityTypes {
		printf("  %-14s %d\n", t, st.Extraction.ByType[t])
	}
	printf("%s %d\n", bold("Relationships:"), st.Discovery.TotalRelationships)
	for _, t := range graph.RelationshipTypes {
		printf("  %-14s %d\n", t, st.Discovery.ByType[t])
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			printf("  %s = %s  %s\n", bold(k.Key), k.Value, faint(k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  ") +
		"\n\nSecrets (ai.openai_api_key) go to the platform keychain.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if key == "ai.openai_api_key" {
			if err := config.SetSecret(config.NewKeychain(), key, value); err != nil {
				return err
			}
			printSuccess("Stored %s in the keychain", key)
			return nil
		}
		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration key to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
