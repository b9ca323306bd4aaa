package maps

import (
	"github.com/ValentinKolb/scoll/cmd/util"
	"github.com/ValentinKolb/scoll/rpc/client"
	"github.com/spf13/cobra"
)

var (
	mapClient *client.Client

	// MapCommands represents the map command group
	MapCommands = &cobra.Command{
		Use:               "map",
		Short:             "Perform operations on the maps of a scoll server",
		PersistentPreRunE: setupClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add client flags to the map command
	util.SetupClientFlags(MapCommands)

	// Add subcommands
	MapCommands.AddCommand(getCmd)
	MapCommands.AddCommand(putCmd)
	MapCommands.AddCommand(delCmd)
	MapCommands.AddCommand(hasCmd)
	MapCommands.AddCommand(sizeCmd)
	MapCommands.AddCommand(clearCmd)
	MapCommands.AddCommand(destroyCmd)
	MapCommands.AddCommand(listCmd)
	MapCommands.AddCommand(mapsCmd)
	MapCommands.AddCommand(statsCmd)
	MapCommands.AddCommand(perfTestCmd)
}

// setupClient initializes the HTTP client
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	mapClient, err = client.NewClient(*util.GetClientConfig())
	return err
}
