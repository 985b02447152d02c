package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for client commands.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	clientServerURL string
	clientAPIKey    string
	clientTimeout   int
)

// apiRequest sends an authenticated request to the running server and
// returns the response body and status. Exits on transport-level failures.
func apiRequest(method, path string, body any) ([]byte, int) {
	apiKey := goutils.Env("TENDO_API_KEY", clientAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set TENDO_API_KEY)")
		os.Exit(ExitDenied)
	}
	serverURL := goutils.Env("TENDO_SERVER_URL", clientServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(clientTimeout)*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(ExitFailure)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, serverURL+path, reqBody)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)
	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitDenied)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)
	}

	return respBody, resp.StatusCode
}

// printJSON pretty-prints a JSON response body to stdout.
func printJSON(body []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		os.Stdout.Write(body)
		fmt.Println()
		return
	}
	fmt.Println(buf.String())
}

// fail prints the server's error body and exits with ExitFailure.
func fail(status int, body []byte) {
	fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", status, string(body))
	os.Exit(ExitFailure)
}
