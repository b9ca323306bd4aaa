package maps

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [map] [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, found, err := mapClient.Get(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%s\n", args[1], found, value)
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [map] [key] [value]",
		Short: "Sets the value for a key (the map is created if it does not exist)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, replaced, err := mapClient.Put(args[0], args[1], []byte(args[2]))
			if err != nil {
				return err
			}
			if replaced {
				fmt.Printf("put successfully, replaced=%s\n", old)
			} else {
				fmt.Println("put successfully")
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [map] [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, removed, err := mapClient.Delete(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, removed=%v, value=%s\n", args[1], removed, old)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [map] [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := mapClient.Has(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[1], found)
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size [map]",
		Short: "Counts the entries of a map (visits every leaf of the map)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, exists, err := mapClient.Size(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("map=%s, exists=%t, size=%d\n", args[0], exists, size)
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear [map]",
		Short: "Removes all entries of a map (in the background)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mapClient.Clear(args[0]); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		},
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy [map]",
		Short: "Removes a map with all its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mapClient.Destroy(args[0]); err != nil {
				return err
			}
			fmt.Println("destroyed successfully")
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [map]",
		Short: "Lists the entries of a map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			pageSize, _ := cmd.Flags().GetInt("page-size")

			cursor, count := "", 0
			for limit <= 0 || count < limit {
				size := pageSize
				if limit > 0 {
					size = min(size, limit-count)
				}
				entries, next, err := mapClient.List(args[0], cursor, size)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf("%s=%s\n", e.Key, e.Value)
				}
				count += len(entries)
				if next == "" {
					break
				}
				cursor = next
			}
			fmt.Printf("(%d entries)\n", count)
			return nil
		},
	}
	mapsCmd = &cobra.Command{
		Use:   "names",
		Short: "Lists the names of all maps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := mapClient.Maps()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats [map]",
		Short: "Prints structural statistics of a map (leaves, directories, depth, fill)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := mapClient.Stats(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
)

func init() {
	listCmd.Flags().Int("limit", 0, "Maximum number of entries to print (0 = all)")
	listCmd.Flags().Int("page-size", 100, "Number of entries fetched per request")
}
