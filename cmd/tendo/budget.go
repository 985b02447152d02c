package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect the tenant's budget",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active budget envelope: limit, used, reserved, available",
	Run: func(_ *cobra.Command, _ []string) {
		body, status := apiRequest(http.MethodGet, "/v1/budget", nil)
		if status != http.StatusOK {
			fail(status, body)
		}
		printJSON(body)
	},
}

var budgetTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List the active budget's ledger rows, oldest first",
	Run: func(_ *cobra.Command, _ []string) {
		body, status := apiRequest(http.MethodGet, "/v1/budget/transactions", nil)
		if status != http.StatusOK {
			fail(status, body)
		}
		printJSON(body)
	},
}

func init() {
	budgetCmd.PersistentFlags().StringVar(&clientServerURL, "server-url", "http://localhost:8080", "server HTTP API URL")
	budgetCmd.PersistentFlags().StringVar(&clientAPIKey, "api-key", "", "API key (or TENDO_API_KEY env)")
	budgetCmd.PersistentFlags().IntVar(&clientTimeout, "timeout", 30, "request timeout in seconds")

	budgetCmd.AddCommand(budgetStatusCmd, budgetTransactionsCmd)
}
