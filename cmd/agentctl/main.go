// Command agentctl is a CLI client for a running agent's rule-editing
// REST surface (internal/restapi) — add, list, remove, and toggle mock,
// chaos, and routing rules without restarting the agent, and tail its
// request log.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

var addr string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Inspect and edit a running chaostunnel agent's rules",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:7777", "agent REST API base url")

	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(logCmd)

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
	rulesCmd.AddCommand(rulesToggleCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage mock, chaos, and routing rules",
}

var rulesListCmd = &cobra.Command{
	Use:       "list {mock|chaos|routing}",
	Short:     "List rules of the given kind",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"mock", "chaos", "routing"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(args[0])
	},
}

var rulesAddCmd = &cobra.Command{
	Use:       "add {mock|chaos|routing}",
	Short:     "Add a rule from a JSON file (use - for stdin)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"mock", "chaos", "routing"},
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		return runAdd(args[0], file)
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:       "rm {mock|chaos|routing} <id>",
	Short:     "Delete a rule by id",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"mock", "chaos", "routing"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(args[0], args[1])
	},
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Toggle a chaos rule's enabled flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToggle(args[0])
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the agent's recent request log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runLog(limit)
	},
}

func init() {
	rulesAddCmd.Flags().String("file", "-", "JSON file to read the rule from")
	logCmd.Flags().Int("limit", 20, "maximum entries to show")
}

func runList(kind string) error {
	path, err := rulePath(kind)
	if err != nil {
		return err
	}
	resp, err := http.Get(addr + path)
	if err != nil {
		return fmt.Errorf("requesting %s rules: %w", kind, err)
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func runAdd(kind, file string) error {
	path, err := rulePath(kind)
	if err != nil {
		return err
	}
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("opening rule file: %w", err)
		}
		defer f.Close()
		r = f
	}
	resp, err := http.Post(addr+path, "application/json", r)
	if err != nil {
		return fmt.Errorf("creating %s rule: %w", kind, err)
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func runDelete(kind, id string) error {
	path, err := rulePath(kind)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s%s/%s", addr, path, id), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting %s rule %s: %w", kind, id, err)
	}
	defer resp.Body.Close()
	fmt.Println(resp.Status)
	return nil
}

func runToggle(id string) error {
	resp, err := http.Post(fmt.Sprintf("%s/rules/chaos/%s/toggle", addr, id), "application/json", nil)
	if err != nil {
		return fmt.Errorf("toggling rule %s: %w", id, err)
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func runLog(limit int) error {
	resp, err := http.Get(fmt.Sprintf("%s/log?limit=%d", addr, limit))
	if err != nil {
		return fmt.Errorf("fetching log: %w", err)
	}
	defer resp.Body.Close()

	var entries []ruleset.LogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("decoding log: %w", err)
	}
	for _, e := range entries {
		fmt.Printf("%-6s %-30s %3d %6dms  mock=%s chaos=%s -> %s\n",
			e.Method, e.Path, e.Status, e.DurationMs, e.AppliedMockRule, e.AppliedChaosRule, e.TargetURL)
	}
	return nil
}

func rulePath(kind string) (string, error) {
	switch strings.ToLower(kind) {
	case "mock", "chaos", "routing":
		return "/rules/" + strings.ToLower(kind), nil
	default:
		return "", fmt.Errorf("unknown rule kind %q: want mock, chaos, or routing", kind)
	}
}

func printJSON(r io.Reader) error {
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
