package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage site backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [site]",
	Short: "Create a backup",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		acc, err := Client.CreateBackup(args[0])
		if err != nil {
			log.Fatalf("Error creating backup: %v", err)
		}
		waitAndReport(acc)
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list [site]",
	Short: "List backups, newest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		backups, err := Client.ListBackups(args[0])
		if err != nil {
			log.Fatalf("Error listing backups: %v", err)
		}
		fmt.Println("Backups:")
		for _, b := range backups {
			fmt.Printf("- %s\n", b)
		}
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete [site] [file]",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Client.DeleteBackup(args[0], args[1]); err != nil {
			log.Fatalf("Error deleting backup: %v", err)
		}
		fmt.Println("Backup deleted successfully.")
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [site] [file]",
	Short: "Restore a site from one of its backups",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		acc, err := Client.RestoreBackup(args[0], args[1])
		if err != nil {
			log.Fatalf("Error restoring backup: %v", err)
		}
		waitAndReport(acc)
	},
}

func init() {
	backupCmd.PersistentFlags().BoolVar(&noWait, "no-wait", false, "Return once the job is queued")
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupDeleteCmd, backupRestoreCmd)
	RootCmd.AddCommand(backupCmd)
}
