package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/plugins"
	"github.com/craftd/msm/pkg/types"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Search, install, and manage server plugins",
}

var pluginSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search a plugin registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		mcVersion, _ := cmd.Flags().GetString("mc-version")
		limit, _ := cmd.Flags().GetInt("limit")

		results, err := apiClient().SearchPlugins(cmd.Context(),
			types.PluginSource(source), args[0], mcVersion, limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		w := table("PROJECT\tNAME\tAUTHOR\tDOWNLOADS\tDESCRIPTION")
		for _, r := range results {
			desc := r.Description
			if len(desc) > 60 {
				desc = desc[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ProjectID, r.Name, r.Author, r.Downloads, desc)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Println("\nInstall with 'msm plugin install SERVER --project PROJECT'.")
		return nil
	},
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install NAME",
	Short: "Install a plugin onto a server",
	Long: `Install a plugin onto a server.

Plugins come from a registry project (--project, resolved against the
server's distro and version) or a direct jar URL (--url, which needs
--name for the display name). The jar lands in the server's plugins/
directory; a restart loads it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		project, _ := cmd.Flags().GetString("project")
		versionID, _ := cmd.Flags().GetString("version-id")
		url, _ := cmd.Flags().GetString("url")
		name, _ := cmd.Flags().GetString("name")

		req := plugins.InstallRequest{
			Source:    types.PluginSource(source),
			ProjectID: project,
			VersionID: versionID,
			URL:       url,
			Name:      name,
		}
		if url != "" {
			req.Source = types.SourceURL
		}
		if project == "" && url == "" {
			return fmt.Errorf("either --project or --url is required")
		}

		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		p, err := c.InstallPlugin(cmd.Context(), srv.ID, req)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Plugin installed: %s %s (%s)\n", p.Name, p.Version, p.FilePath)
		if srv.Running {
			fmt.Println("  restart the server to load it")
		}
		return nil
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list NAME",
	Short: "List a server's installed plugins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		installed, err := c.ListPlugins(cmd.Context(), srv.ID)
		if err != nil {
			return err
		}
		if len(installed) == 0 {
			fmt.Println("No plugins installed.")
			return nil
		}
		w := table("ID\tNAME\tVERSION\tSOURCE\tENABLED")
		for _, p := range installed {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\n", p.ID, p.Name, p.Version, p.Source, p.Enabled)
		}
		return w.Flush()
	},
}

var pluginEnableCmd = &cobra.Command{
	Use:   "enable NAME PLUGIN_ID",
	Short: "Re-enable a disabled plugin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPluginEnabled(cmd, args[0], args[1], true)
	},
}

var pluginDisableCmd = &cobra.Command{
	Use:   "disable NAME PLUGIN_ID",
	Short: "Disable a plugin without uninstalling it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPluginEnabled(cmd, args[0], args[1], false)
	},
}

func setPluginEnabled(cmd *cobra.Command, serverName, pluginArg string, enabled bool) error {
	pluginID, err := parseID(pluginArg)
	if err != nil {
		return err
	}
	c, srv, err := resolveServer(cmd, serverName)
	if err != nil {
		return err
	}
	var p *types.Plugin
	if enabled {
		p, err = c.EnablePlugin(cmd.Context(), srv.ID, pluginID)
	} else {
		p, err = c.DisablePlugin(cmd.Context(), srv.ID, pluginID)
	}
	if err != nil {
		return err
	}
	state := "disabled"
	if p.Enabled {
		state = "enabled"
	}
	fmt.Printf("✓ Plugin %s %s\n", p.Name, state)
	if srv.Running {
		fmt.Println("  takes effect on the next restart")
	}
	return nil
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove NAME PLUGIN_ID",
	Short: "Uninstall a plugin and delete its jar",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pluginID, err := parseID(args[1])
		if err != nil {
			return err
		}
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		if err := c.UninstallPlugin(cmd.Context(), srv.ID, pluginID); err != nil {
			return err
		}
		fmt.Printf("✓ Plugin %d removed from %s\n", pluginID, srv.Name)
		return nil
	},
}

func init() {
	pluginSearchCmd.Flags().String("source", "modrinth", "Registry to search: modrinth or hangar")
	pluginSearchCmd.Flags().String("mc-version", "", "Only show plugins compatible with this Minecraft version")
	pluginSearchCmd.Flags().Int("limit", 10, "Maximum results")

	pluginInstallCmd.Flags().String("source", "modrinth", "Registry the project lives on: modrinth or hangar")
	pluginInstallCmd.Flags().String("project", "", "Registry project id or slug")
	pluginInstallCmd.Flags().String("version-id", "", "Pin a specific registry version instead of the latest compatible")
	pluginInstallCmd.Flags().String("url", "", "Direct jar URL instead of a registry project")
	pluginInstallCmd.Flags().String("name", "", "Display name for --url installs")

	pluginCmd.AddCommand(pluginSearchCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginEnableCmd)
	pluginCmd.AddCommand(pluginDisableCmd)
	pluginCmd.AddCommand(pluginRemoveCmd)
}
