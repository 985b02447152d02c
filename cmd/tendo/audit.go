package main

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	auditAction   string
	auditActor    string
	auditResource string
	auditFrom     string
	auditTo       string
	auditLimit    int
	auditOffset   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Search the tenant's audit trail",
	Long: `Search audit entries on a running server, newest first.

Examples:
  tendo audit search
  tendo audit search --action execution.completed --limit 20
  tendo audit search --actor user-1 --from 2026-08-01T00:00:00Z`,
}

var auditSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search audit entries with filters",
	Run: func(_ *cobra.Command, _ []string) {
		q := url.Values{}
		if auditAction != "" {
			q.Set("action", auditAction)
		}
		if auditActor != "" {
			q.Set("actor_id", auditActor)
		}
		if auditResource != "" {
			q.Set("resource", auditResource)
		}
		if auditFrom != "" {
			q.Set("from", auditFrom)
		}
		if auditTo != "" {
			q.Set("to", auditTo)
		}
		if auditLimit > 0 {
			q.Set("limit", strconv.Itoa(auditLimit))
		}
		if auditOffset > 0 {
			q.Set("offset", strconv.Itoa(auditOffset))
		}

		path := "/v1/audit"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		body, status := apiRequest(http.MethodGet, path, nil)
		if status != http.StatusOK {
			fail(status, body)
		}
		printJSON(body)
	},
}

func init() {
	auditCmd.PersistentFlags().StringVar(&clientServerURL, "server-url", "http://localhost:8080", "server HTTP API URL")
	auditCmd.PersistentFlags().StringVar(&clientAPIKey, "api-key", "", "API key (or TENDO_API_KEY env)")
	auditCmd.PersistentFlags().IntVar(&clientTimeout, "timeout", 30, "request timeout in seconds")

	auditSearchCmd.Flags().StringVar(&auditAction, "action", "", "filter by action (e.g. execution.completed)")
	auditSearchCmd.Flags().StringVar(&auditActor, "actor", "", "filter by actor ID")
	auditSearchCmd.Flags().StringVar(&auditResource, "resource", "", "filter by resource")
	auditSearchCmd.Flags().StringVar(&auditFrom, "from", "", "entries at or after this RFC3339 timestamp")
	auditSearchCmd.Flags().StringVar(&auditTo, "to", "", "entries at or before this RFC3339 timestamp")
	auditSearchCmd.Flags().IntVar(&auditLimit, "limit", 0, "maximum entries to return")
	auditSearchCmd.Flags().IntVar(&auditOffset, "offset", 0, "entries to skip")

	auditCmd.AddCommand(auditSearchCmd)
}
