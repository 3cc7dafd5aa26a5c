package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/campa/internal/config"
	"github.com/kalambet/campa/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about campaign performance or documents",
	Long: `Ask a question about campaign performance or documents.

Examples:
  campa ask "how did campaign 3 perform?"
  campa ask "compare campaigns 3 and 7" --thread t1
  campa ask "chart conversion rates by segment" --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
		userID, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/chat", map[string]string{
			"thread_id": threadID,
			"user_id":   userID,
			"query":     args[0],
		})
		if err != nil {
			return err
		}

		var result struct {
			ThreadID string       `json:"thread_id"`
			Turn     storage.Turn `json:"turn"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printTurn(result.Turn)
		printStatus("Thread", "%s", result.ThreadID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("thread", "", "thread id to continue (empty starts a new thread)")
	askCmd.Flags().String("user", "cli", "user id the query is attributed to")
}

// printTurn renders one assistant turn for the terminal, decoding table and
// chart payloads from the content.
func printTurn(turn storage.Turn) {
	switch turn.ResponseType {
	case "table":
		var table struct {
			Columns []string `json:"columns"`
			Rows    [][]any  `json:"rows"`
			Caption string   `json:"caption"`
		}
		if err := json.Unmarshal([]byte(turn.Content), &table); err != nil {
			fmt.Println(turn.Content)
			break
		}
		if table.Caption != "" {
			fmt.Println(colorize(colorBold, table.Caption))
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		for i, col := range table.Columns {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, col)
		}
		fmt.Fprintln(w)
		for _, row := range table.Rows {
			for i, cell := range row {
				if i > 0 {
					fmt.Fprint(w, "\t")
				}
				fmt.Fprintf(w, "%v", cell)
			}
			fmt.Fprintln(w)
		}
		w.Flush()
	case "chart":
		var spec struct {
			Title  string `json:"title"`
			Chart  string `json:"chart"`
			Points []struct {
				X string  `json:"x"`
				Y float64 `json:"y"`
			} `json:"points"`
		}
		if err := json.Unmarshal([]byte(turn.Content), &spec); err != nil {
			fmt.Println(turn.Content)
			break
		}
		fmt.Println(colorize(colorBold, fmt.Sprintf("%s (%s chart)", spec.Title, spec.Chart)))
		for _, p := range spec.Points {
			fmt.Printf("  %s: %.4f\n", p.X, p.Y)
		}
	case "error":
		printError("%s", turn.Content)
	default:
		fmt.Println(turn.Content)
	}

	for _, a := range turn.Attributions {
		printStatus("Source", "%s %s", a.SourceKind, a.SourceRef)
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <thread-id>",
	Short: "Show a thread's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/threads/%s/history?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var result struct {
			Turns []storage.Turn `json:"turns"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Turns) == 0 {
			fmt.Println("(no history)")
			return nil
		}
		for _, turn := range result.Turns {
			role := colorize(colorCyan, turn.Role)
			if turn.Role == storage.RoleAssistant {
				role = colorize(colorGreen, turn.Role)
			}
			fmt.Printf("%s [%s]\n", role, turn.CreatedAt.Local().Format("2006-01-02 15:04"))
			printTurn(turn)
			fmt.Println()
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "maximum number of turns to show")
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear <thread-id>",
	Short: "Delete a thread's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the thread's entire history. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Clearing thread %s...", args[0])
		resp, err := client.delete("/threads/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleared thread %s", args[0])
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm history deletion")
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage [user-id]",
	Short: "Show a user's token usage",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := "cli"
		if len(args) > 0 {
			userID = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/users/" + userID + "/usage")
		if err != nil {
			return err
		}

		var stats storage.TokenStats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("User", "%s", userID)
		printStatus("Queries", "%d", stats.TotalQueries)
		printStatus("Input tokens", "%d", stats.InputTokens)
		printStatus("Output tokens", "%d", stats.OutputTokens)
		printStatus("Total tokens", "%d", stats.TotalTokens)
		printStatus("Avg per query", "%.1f", stats.AvgPerQuery)
		return nil
	},
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
