package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	approvalApprover string
	approvalReason   string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve pending approval requests",
	Long: `List, approve, or reject pending approval requests on a running server.

Approving resumes the gated execution through the normal budget and
invocation path; rejecting cancels it.

Examples:
  tendo approvals list
  tendo approvals approve 6b9f... --approver manager-1
  tendo approvals reject 6b9f... --approver manager-1 --reason "out of scope"`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests",
	Run: func(_ *cobra.Command, _ []string) {
		body, status := apiRequest(http.MethodGet, "/v1/approvals", nil)
		if status != http.StatusOK {
			fail(status, body)
		}
		printJSON(body)
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending execution",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		body, status := apiRequest(http.MethodPost, "/v1/approvals/"+args[0]+"/approve", map[string]string{
			"approver_id": approvalApprover,
			"reason":      approvalReason,
		})
		if status != http.StatusOK {
			fail(status, body)
		}
		printJSON(body)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending execution",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		if approvalReason == "" {
			fmt.Fprintln(os.Stderr, "Error: --reason is required when rejecting")
			os.Exit(ExitFailure)
		}
		body, status := apiRequest(http.MethodPost, "/v1/approvals/"+args[0]+"/reject", map[string]string{
			"approver_id": approvalApprover,
			"reason":      approvalReason,
		})
		if status != http.StatusOK {
			fail(status, body)
		}
		printJSON(body)
	},
}

func init() {
	approvalsCmd.PersistentFlags().StringVar(&clientServerURL, "server-url", "http://localhost:8080", "server HTTP API URL")
	approvalsCmd.PersistentFlags().StringVar(&clientAPIKey, "api-key", "", "API key (or TENDO_API_KEY env)")
	approvalsCmd.PersistentFlags().IntVar(&clientTimeout, "timeout", 30, "request timeout in seconds")

	for _, cmd := range []*cobra.Command{approvalsApproveCmd, approvalsRejectCmd} {
		cmd.Flags().StringVar(&approvalApprover, "approver", "", "acting approver user ID (required)")
		cmd.Flags().StringVar(&approvalReason, "reason", "", "decision reason")
		_ = cmd.MarkFlagRequired("approver")
	}

	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd)
}
