package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "warden supervises long-running units and watches system health",
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the supervisor daemon from a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "warden.toml", "path to TOML config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("warden %s\n", version)
		},
	}

	root.AddCommand(serve, versionCmd)
	return root
}
