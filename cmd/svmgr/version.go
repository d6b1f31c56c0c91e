package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		short, _ := cmd.Flags().GetBool("short")
		if short {
			fmt.Println(version.Version)
			return
		}
		fmt.Printf("svmgr %s (%s, built %s)\n", version.Version, version.Commit, version.Date)
	},
}

func init() {
	versionCmd.Flags().BoolP("short", "s", false, "Show only version number")
}
