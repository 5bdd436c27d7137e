package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/orbitel/opsbridge/internal/activity"
	"github.com/orbitel/opsbridge/internal/bridge"
	"github.com/orbitel/opsbridge/internal/pipeline"
)

func apiClient() *http.Client {
	socketPath := defaultSocketPath()
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

func apiGet(path string, v any) error {
	resp, err := apiClient().Get("http://opsbridge" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is opsbridge daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("bridge error %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiPost(path string, body any, v any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	resp, err := apiClient().Post("http://opsbridge"+path, "application/json", payload)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is opsbridge daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%s", failure.Error)
		}
		return fmt.Errorf("bridge error %d: %s", resp.StatusCode, raw)
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in to the remote API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rememberMe, _ := cmd.Flags().GetBool("remember")

		fmt.Print("Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		req := bridge.LoginRequest{
			Email:      args[0],
			Password:   string(pw),
			RememberMe: rememberMe,
		}
		var result struct {
			User json.RawMessage `json:"user"`
		}
		if err := apiPost("/v1/auth/login", req, &result); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", args[0])
		return nil
	},
}

// logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiPost("/v1/auth/logout", nil, nil); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st bridge.State
		if err := apiGet("/v1/auth/state", &st); err != nil {
			return err
		}

		if !st.LoggedIn {
			fmt.Println("Not logged in")
			if st.PrefillAvailable {
				fmt.Println("Remembered credentials are staged for the next login")
			}
			return nil
		}

		fmt.Println("Logged in")
		if len(st.User) > 0 {
			var user map[string]any
			if json.Unmarshal(st.User, &user) == nil {
				if email, ok := user["email"].(string); ok {
					fmt.Printf("User: %s\n", email)
				}
			}
		}
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get <endpoint>",
	Short: "Issue an authenticated GET through the bridge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := strings.TrimPrefix(args[0], "/")
		var result pipeline.Result
		if err := apiGet("/v1/api/"+endpoint, &result); err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("request failed (%d): %s", result.Status, result.Message)
		}

		var pretty bytes.Buffer
		if json.Indent(&pretty, result.Data, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(result.Data))
		}
		return nil
	},
}

// activity command
var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent bridge activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		var entries []activity.Entry
		if err := apiGet("/v1/activity?n="+strconv.Itoa(n), &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No activity")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tVERB\tENDPOINT\tSTATUS")
		for _, e := range entries {
			endpoint := e.Endpoint
			if endpoint == "" {
				endpoint = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				e.Time.Format(time.TimeOnly), e.Verb, endpoint, e.Status)
		}
		w.Flush()
		return nil
	},
}

func init() {
	loginCmd.Flags().Bool("remember", false, "remember credentials for silent re-login")
	activityCmd.Flags().IntP("lines", "n", 50, "number of entries to show")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(activityCmd)
}
