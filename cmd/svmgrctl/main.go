package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	addr   string
	client = &http.Client{Timeout: 10 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:           "svmgrctl",
	Short:         "Query and control a running svmgr through its local API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", envOr("SVMGR_ADDR", "http://127.0.0.1:8080"), "svmgr API base URL")

	rootCmd.AddCommand(
		getCmd("status", "Show supervisor state and process snapshot", "/v1/status"),
		getCmd("health", "Show the current health verdict", "/v1/health"),
		getCmd("restarts", "List past restarts of this supervisor run", "/v1/restarts"),
		&cobra.Command{
			Use:   "restart",
			Short: "Ask the supervisor to restart the process",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return do(http.MethodPost, "/v1/restart")
			},
		},
	)
}

func getCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(http.MethodGet, path)
		},
	}
}

// do calls the API and pretty-prints the JSON answer. /v1/health answers 503
// with a body when the process is unhealthy, which is printed before failing.
func do(method, path string) error {
	req, err := http.NewRequest(method, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
	} else if len(body) > 0 {
		fmt.Println(strings.TrimSpace(string(body)))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
