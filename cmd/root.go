package cmd

import (
	"fmt"
	"os"

	"github.com/korecekm/concread/cmd/demo"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "concread",
		Short: "concurrently readable data structures",
		Long: fmt.Sprintf(`concread (v%s)

A library of concurrently readable data structures for Go: wait-free
snapshot readers over copy-on-write trees, hash maps and an adaptive
replacement cache, coordinated by epoch-based memory reclamation.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of concread",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("concread v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(demo.DemoCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
