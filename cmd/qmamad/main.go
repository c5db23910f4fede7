package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/surpriz/queenmama/internal/cli"
	"github.com/surpriz/queenmama/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qmamad",
		Short: "Queenmama knowledge daemon and CLI",
		Long:  "Queenmama daemon for serving the per-user knowledge atom API and running store maintenance",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MaintainCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
