package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Manage the site port range",
}

var portsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Get port range",
	Run: func(cmd *cobra.Command, args []string) {
		handleGetPortRange()
	},
}

var portsStart, portsEnd int
var portsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set port range",
	Run: func(cmd *cobra.Command, args []string) {
		if portsStart == 0 || portsEnd == 0 {
			log.Fatal("Error: You must specify both --start and --end flags to update the port range")
		}
		handleSetPortRange(portsStart, portsEnd)
	},
}

var loginUser, loginPassword string
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the token for later commands",
	Run: func(cmd *cobra.Command, args []string) {
		handleLogin()
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the saved token",
	Run: func(cmd *cobra.Command, args []string) {
		if err := Client.Logout(); err != nil {
			log.Printf("Warning: %v", err)
		}
		forgetToken()
		fmt.Println("Logged out.")
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show host CPU and RAM usage",
	Run: func(cmd *cobra.Command, args []string) {
		stats, err := Client.GetVPSStats()
		if err != nil {
			log.Fatalf("Error getting stats: %v", err)
		}
		fmt.Printf("CPU: %s%%\nRAM: %s%%\n", stats.CPUUsage, stats.RAMUsage)
	},
}

var activityLimit int
var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent activity",
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := Client.ListActivities(activityLimit)
		if err != nil {
			log.Fatalf("Error listing activity: %v", err)
		}
		for _, e := range entries {
			fmt.Printf("%s [%s] %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, e.Action)
		}
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and cancel jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		job, err := Client.GetJob(args[0])
		if err != nil {
			log.Fatalf("Error getting job: %v", err)
		}
		fmt.Printf("%s  %s  %s  %s\n", job.ID, job.SiteName, job.Kind, job.State)
		if job.Error != "" {
			fmt.Printf("Error: %s\n", job.Error)
		}
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list [site]",
	Short: "List a site's recent jobs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobs, err := Client.ListSiteJobs(args[0], 20)
		if err != nil {
			log.Fatalf("Error listing jobs: %v", err)
		}
		for _, j := range jobs {
			fmt.Printf("- %s %s %s (%s)\n", j.ID, j.Kind, j.State, j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		}
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Ask a running job to stop",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Client.CancelJob(args[0]); err != nil {
			log.Fatalf("Error cancelling job: %v", err)
		}
		fmt.Println("Cancellation requested.")
	},
}

func init() {
	portsSetCmd.Flags().IntVar(&portsStart, "start", 0, "Start port")
	portsSetCmd.Flags().IntVar(&portsEnd, "end", 0, "End port")
	portsCmd.AddCommand(portsGetCmd, portsSetCmd)

	loginCmd.Flags().StringVar(&loginUser, "username", "admin", "Operator username")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Operator password (prompted when empty)")

	activityCmd.Flags().IntVar(&activityLimit, "limit", 20, "Number of entries")

	jobCmd.AddCommand(jobGetCmd, jobListCmd, jobCancelCmd)

	RootCmd.AddCommand(portsCmd, loginCmd, logoutCmd, statsCmd, activityCmd, jobCmd)
}

func handleLogin() {
	password := loginPassword
	if password == "" {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			log.Fatalf("Error reading password: %v", err)
		}
		password = strings.TrimSpace(line)
	}

	token, err := Client.Login(loginUser, password)
	if err != nil {
		log.Fatalf("Error logging in: %v", err)
	}
	if err := saveToken(token); err != nil {
		log.Printf("Warning: could not save token: %v", err)
		fmt.Println(token)
		return
	}
	fmt.Println("Login successful.")
}

func handleGetPortRange() {
	pr, err := Client.GetPortRange()
	if err != nil {
		log.Fatalf("Error getting port range: %v", err)
	}
	fmt.Println("\n--- PORT CONFIGURATION ---")
	fmt.Printf("Start port: %d\n", pr.Start)
	fmt.Printf("End port:   %d\n", pr.End)
	fmt.Printf("Range:      %d ports available\n", pr.End-pr.Start+1)
}

func handleSetPortRange(start, end int) {
	if err := Client.SetPortRange(start, end); err != nil {
		log.Fatalf("Error setting port range: %v", err)
	}
	fmt.Println("Port configuration updated successfully!")
	fmt.Printf("New range: %d - %d\n", start, end)
}
