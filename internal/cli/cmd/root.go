package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"wpdock/pkg/sdk"

	"github.com/spf13/cobra"
)

var (
	Client  *sdk.Client
	BaseURL string
	Token   string
)

var RootCmd = &cobra.Command{
	Use:   "wpdock",
	Short: "CLI for the wpdock WordPress orchestration daemon",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		token := Token
		if token == "" {
			token = os.Getenv("WPDOCK_TOKEN")
		}
		if token == "" {
			token = loadToken()
		}
		Client = sdk.NewClient(BaseURL, token)
	},
	Run: func(cmd *cobra.Command, args []string) {
		RunDashboard()
	},
}

func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "wpdock", "cli-token"), nil
}

func loadToken() string {
	path, err := tokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func saveToken(token string) error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0600)
}

func forgetToken() {
	if path, err := tokenPath(); err == nil {
		_ = os.Remove(path)
	}
}

func Execute() {
	RootCmd.PersistentFlags().StringVar(&BaseURL, "url", "http://localhost:8080", "URL of the wpdock daemon")
	RootCmd.PersistentFlags().StringVar(&Token, "token", "", "API token (defaults to $WPDOCK_TOKEN or the saved login)")

	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
