package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var propertiesCmd = &cobra.Command{
	Use:   "properties",
	Short: "Read and edit server.properties",
}

var propertiesGetCmd = &cobra.Command{
	Use:   "get NAME [KEY...]",
	Short: "Print server.properties values",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		props, err := c.Properties(cmd.Context(), srv.ID)
		if err != nil {
			return err
		}
		if len(args) > 1 {
			for _, key := range args[1:] {
				val, ok := props[key]
				if !ok {
					return fmt.Errorf("property %q is not set", key)
				}
				fmt.Printf("%s=%s\n", key, val)
			}
			return nil
		}
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, props[k])
		}
		return nil
	},
}

var propertiesSetCmd = &cobra.Command{
	Use:   "set NAME KEY=VALUE [KEY=VALUE...]",
	Short: "Set server.properties values",
	Long: `Set server.properties values.

Values are written immediately; a running server reads them on its
next restart. Keys the daemon manages itself (server-port, query.port)
are refused here so the file cannot disagree with the database.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := make(map[string]string, len(args)-1)
		for _, pair := range args[1:] {
			key, val, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid argument %q: expected KEY=VALUE", pair)
			}
			patch[key] = val
		}
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		if _, err := c.SetProperties(cmd.Context(), srv.ID, patch); err != nil {
			return err
		}
		noun := "properties"
		if len(patch) == 1 {
			noun = "property"
		}
		fmt.Printf("✓ Updated %d %s\n", len(patch), noun)
		if srv.Running {
			fmt.Println("  takes effect on the next restart")
		}
		return nil
	},
}

func init() {
	propertiesCmd.AddCommand(propertiesGetCmd)
	propertiesCmd.AddCommand(propertiesSetCmd)
}
