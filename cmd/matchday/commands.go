package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mufcstore/matchday/internal/config"
)

// --- caches ---

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "Manage cache partitions",
}

var cachesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL cached content. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/internal/caches/clear", nil)
		if err != nil {
			return err
		}

		var result struct {
			Status     string `json:"status"`
			Partitions int    `json:"partitions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleared %d cache partitions", result.Partitions)
		return nil
	},
}

func init() {
	cachesClearCmd.Flags().Bool("confirm", false, "confirm wholesale cache clear")
	cachesCmd.AddCommand(cachesClearCmd)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync [tag]",
	Short: "Trigger deferred action replay",
	Long: `Trigger deferred action replay.

Without arguments, signals the gateway that connectivity returned and
drains every queue. With a tag, fires that single sync tag.

Examples:
  matchday sync
  matchday sync cart-sync
  matchday sync price-updates`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/internal/online"
		if len(args) == 1 {
			path = "/internal/sync/" + args[0]
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if tag := result["tag"]; tag != "" {
			printSuccess("Sync tag %s completed", tag)
		} else {
			printSuccess("All queues drained")
		}
		return nil
	},
}

// --- actions ---

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Inspect and record deferred actions",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show pending action counts per kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/internal/actions")
		if err != nil {
			return err
		}

		var body struct {
			Pending map[string]int `json:"pending"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		for kind, n := range body.Pending {
			printStatus(kind, "%d pending", n)
		}
		return nil
	},
}

var actionsAddCmd = &cobra.Command{
	Use:   "add <kind>",
	Short: "Record a deferred action for later replay",
	Long: `Record a deferred action for later replay.

The payload is read from --payload or stdin.

Examples:
  matchday actions add cart --payload '{"productId":"mufc-home-kit","qty":2}'
  cat order.json | matchday actions add order`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		if payload == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading payload from stdin: %w", err)
			}
			payload = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/internal/actions", map[string]any{
			"kind":    args[0],
			"payload": json.RawMessage(payload),
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued %s action %s", args[0], result["id"])
		return nil
	},
}

func init() {
	actionsAddCmd.Flags().String("payload", "", "action payload as JSON")
	actionsCmd.AddCommand(actionsListCmd)
	actionsCmd.AddCommand(actionsAddCmd)
}

// --- push ---

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Send or simulate push notifications",
}

var pushSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Fan a notification out to every subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		url, _ := cmd.Flags().GetString("url")

		payload := map[string]any{}
		if title != "" {
			payload["title"] = title
		}
		if body != "" {
			payload["body"] = body
		}
		if url != "" {
			payload["data"] = map[string]string{"url": url}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/push/send", payload)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Sent to %d subscriptions, %d failed", result["sent"], result["failed"])
		return nil
	},
}

var pushReceiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Deliver a push payload to the local notification handler",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := cmd.Flags().GetString("body")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/push/receive", json.RawMessage(body))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Notification %s", result["status"])
		return nil
	},
}

func init() {
	pushSendCmd.Flags().String("title", "", "notification title")
	pushSendCmd.Flags().String("body", "", "notification body")
	pushSendCmd.Flags().String("url", "", "navigation target for the explore action")
	pushReceiveCmd.Flags().String("body", "{}", "raw push payload")
	pushCmd.AddCommand(pushSendCmd)
	pushCmd.AddCommand(pushReceiveCmd)
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
