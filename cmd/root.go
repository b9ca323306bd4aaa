package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/scoll/cmd/maps"
	"github.com/ValentinKolb/scoll/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "scoll",
		Short: "scalable transactional collections",
		Long: fmt.Sprintf(`scoll (v%s)

Scalable hash maps inside a transactional object store, written in Go.
Every map is split into many small objects, so concurrent transactions
rarely conflict. The object store can be replicated with RAFT.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of scoll",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scoll v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(maps.MapCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
