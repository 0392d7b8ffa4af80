package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"wpdock/pkg/sdk"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage WordPress sites",
}

var createReq sdk.CreateSiteRequest
var noWait bool

var siteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new site",
	Run: func(cmd *cobra.Command, args []string) {
		handleCreate(createReq)
	},
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sites",
	Run: func(cmd *cobra.Command, args []string) {
		handleList()
	},
}

var siteInfoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show a site including its credentials",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleInfo(args[0])
	},
}

var siteRestartCmd = &cobra.Command{
	Use:   "restart [name]",
	Short: "Restart a site's containers",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		acc, err := Client.RestartSite(args[0])
		if err != nil {
			log.Fatalf("Error restarting site: %v", err)
		}
		waitAndReport(acc)
	},
}

var siteDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a site and everything it owns",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		acc, err := Client.DeleteSite(args[0])
		if err != nil {
			log.Fatalf("Error deleting site: %v", err)
		}
		waitAndReport(acc)
	},
}

var logLineCount int

var siteLogsCmd = &cobra.Command{
	Use:   "logs [name]",
	Short: "Print the tail of a site's container logs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out, err := Client.SiteLogs(args[0], logLineCount)
		if err != nil {
			log.Fatalf("Error reading logs: %v", err)
		}
		fmt.Print(out)
	},
}

func init() {
	f := siteCreateCmd.Flags()
	f.StringVar(&createReq.ProjectName, "name", "", "Project name (lowercase letters, digits, '-' and '_')")
	f.StringVar(&createReq.Subdomain, "subdomain", "", "Subdomain (defaults to the name)")
	f.StringVar(&createReq.AdminUsername, "admin-user", "admin", "WordPress admin username")
	f.StringVar(&createReq.AdminPassword, "admin-password", "", "WordPress admin password")
	f.StringVar(&createReq.AdminEmail, "admin-email", "", "WordPress admin email")
	f.StringSliceVar(&createReq.Plugins, "plugin", nil, "Plugin slug to install (repeatable)")
	siteCreateCmd.MarkFlagRequired("name")
	siteCreateCmd.MarkFlagRequired("admin-password")

	siteLogsCmd.Flags().IntVar(&logLineCount, "lines", 200, "Number of lines")
	siteCmd.PersistentFlags().BoolVar(&noWait, "no-wait", false, "Return once the job is queued")

	siteCmd.AddCommand(siteCreateCmd, siteListCmd, siteInfoCmd, siteRestartCmd, siteDeleteCmd, siteLogsCmd)
	RootCmd.AddCommand(siteCmd)
}

// followSite prints progress frames of the site's topic until done closes.
func followSite(name string, done <-chan struct{}) {
	wsURL, err := Client.GetWebSocketURL("/ws/sites/" + name)
	if err != nil {
		return
	}
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("Warning: Could not connect to progress WebSocket: %v", err)
		return
	}
	go func() {
		<-done
		c.Close()
	}()
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			return
		}
		var ev sdk.Event
		if json.Unmarshal(message, &ev) != nil || ev.Type != "progress" {
			continue
		}
		var p sdk.ProgressEvent
		if json.Unmarshal(ev.Data, &p) == nil {
			fmt.Printf("\r[%3.0f%%] %-60s", p.Progress*100, p.Message)
		}
	}
}

func waitAndReport(acc *sdk.Accepted) {
	fmt.Println(acc.Message)
	if noWait || acc.JobID == "" {
		fmt.Printf("Job: %s\n", acc.JobID)
		return
	}
	job, err := Client.WaitJob(acc.JobID, time.Second, 15*time.Minute)
	if err != nil {
		log.Fatalf("Error waiting for job: %v", err)
	}
	if job.State == "failed" {
		log.Fatalf("\nJob %s failed: %s", job.ID, job.Error)
	}
	fmt.Printf("\nJob %s %s.\n", job.ID, job.State)
}

func handleCreate(req sdk.CreateSiteRequest) {
	done := make(chan struct{})
	if !noWait {
		go followSite(req.ProjectName, done)
	}
	defer close(done)

	acc, err := Client.CreateSite(req)
	if err != nil {
		log.Fatalf("Error creating site: %v", err)
	}
	if acc.SiteURL != "" {
		fmt.Printf("URL: %s\n", acc.SiteURL)
	}
	waitAndReport(acc)
}

func handleList() {
	sites, err := Client.ListSites()
	if err != nil {
		log.Fatalf("Error listing sites: %v", err)
	}

	fmt.Println("Sites:")
	for _, s := range sites {
		fmt.Printf("- %s [%s] %s (port %d)\n", s.ProjectName, s.Status, s.SiteURL, s.WPPort)
	}
}

func handleInfo(name string) {
	s, err := Client.GetSite(name)
	if err != nil {
		log.Fatalf("Error getting site: %v", err)
	}
	fmt.Printf("\n--- SITE %s ---\n", s.ProjectName)
	fmt.Printf("Status:     %s\n", s.Status)
	if s.LastError != "" {
		fmt.Printf("Last error: %s\n", s.LastError)
	}
	fmt.Printf("URL:        %s\n", s.SiteURL)
	fmt.Printf("Port:       %d\n", s.WPPort)
	fmt.Printf("Admin:      %s / %s (%s)\n", s.AdminUsername, s.AdminPassword, s.AdminEmail)
	fmt.Printf("Database:   %s (user %s, password %s)\n", s.DBName, s.DBUser, s.DBPassword)
	fmt.Printf("Plugins:    %v\n", s.Plugins)
}
