package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/client"
	"github.com/craftd/msm/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "msm",
	Short: "msm - local Minecraft server supervisor",
	Long: `msm supervises Minecraft server processes on this machine: it
downloads server jars, starts and stops them cleanly, streams their
consoles, takes scheduled backups, and restarts crashed servers.

The daemon runs with "msm serve"; every other subcommand talks to it
over the local HTTP API.`,
	Version: Version,
}

var apiAddr string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"msm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8765", "Daemon API address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(javaCmd)
	rootCmd.AddCommand(propertiesCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(autostartCmd)
}

// apiClient builds the client the remote subcommands share. The key rides
// in MSM_API_KEY so it never lands in shell history.
func apiClient() *client.Client {
	return client.New(client.Options{
		Base:   apiAddr,
		APIKey: os.Getenv("MSM_API_KEY"),
	})
}

// resolveServer turns a CLI name argument into a server record.
func resolveServer(cmd *cobra.Command, name string) (*client.Client, *types.Server, error) {
	c := apiClient()
	srv, err := c.FindServer(cmd.Context(), name)
	if err != nil {
		return nil, nil, err
	}
	return c, srv, nil
}

// table writes aligned columns to stdout; callers print rows with Fprintf
// and must Flush.
func table(header string) *tabwriter.Writer {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, header)
	return w
}
