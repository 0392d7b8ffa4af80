package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage the plugins of a running site",
}

var pluginListCmd = &cobra.Command{
	Use:   "list [site]",
	Short: "List installed plugins",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		plugins, err := Client.ListPlugins(args[0])
		if err != nil {
			log.Fatalf("Error listing plugins: %v", err)
		}
		fmt.Println("Plugins:")
		for _, p := range plugins {
			update := ""
			if p.Update == "available" {
				update = " (update available)"
			}
			fmt.Printf("- %s %s [%s]%s\n", p.Name, p.Version, p.Status, update)
		}
	},
}

func pluginAction(use, short, verb string, fn func(site, slug string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [site] [plugin]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := fn(args[0], args[1]); err != nil {
				log.Fatalf("Error: %v", err)
			}
			fmt.Printf("Plugin '%s' %s on site '%s'.\n", args[1], verb, args[0])
		},
	}
}

func init() {
	pluginCmd.AddCommand(
		pluginListCmd,
		pluginAction("activate", "Activate an installed plugin", "activated", func(s, p string) error { return Client.ActivatePlugin(s, p) }),
		pluginAction("deactivate", "Deactivate a plugin", "deactivated", func(s, p string) error { return Client.DeactivatePlugin(s, p) }),
		pluginAction("install", "Install and activate a plugin", "installed", func(s, p string) error { return Client.InstallPlugin(s, p) }),
		pluginAction("uninstall", "Deactivate and remove a plugin", "uninstalled", func(s, p string) error { return Client.UninstallPlugin(s, p) }),
	)
	RootCmd.AddCommand(pluginCmd)
}
