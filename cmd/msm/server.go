package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/types"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage Minecraft servers",
}

var serverCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a server and download its jar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		distroName, _ := cmd.Flags().GetString("distro")
		version, _ := cmd.Flags().GetString("version")
		port, _ := cmd.Flags().GetInt("port")
		memory, _ := cmd.Flags().GetString("memory")
		javaPath, _ := cmd.Flags().GetString("java")
		javaArgs, _ := cmd.Flags().GetString("java-args")
		restart, _ := cmd.Flags().GetBool("restart-on-crash")

		fmt.Printf("Creating server '%s' (%s %s); the jar download can take a minute...\n",
			args[0], distroName, version)

		srv, err := apiClient().CreateServer(cmd.Context(), &types.CreateServerSpec{
			Name:           args[0],
			Distro:         types.Distro(distroName),
			Version:        version,
			Port:           port,
			Memory:         memory,
			JavaPath:       javaPath,
			JavaArgs:       javaArgs,
			RestartOnCrash: restart,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Server created: %s (port %d, dir %s)\n", srv.Name, srv.Port, srv.Dir)
		return nil
	},
}

var serverImportCmd = &cobra.Command{
	Use:   "import NAME",
	Short: "Adopt an existing server directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		distroName, _ := cmd.Flags().GetString("distro")
		version, _ := cmd.Flags().GetString("version")
		port, _ := cmd.Flags().GetInt("port")
		memory, _ := cmd.Flags().GetString("memory")
		javaPath, _ := cmd.Flags().GetString("java")

		srv, err := apiClient().ImportServer(cmd.Context(), &types.ImportServerSpec{
			Name:     args[0],
			Dir:      dir,
			Distro:   types.Distro(distroName),
			Version:  version,
			Port:     port,
			Memory:   memory,
			JavaPath: javaPath,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Server imported: %s (%s)\n", srv.Name, srv.Dir)
		return nil
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := apiClient().ListServers(cmd.Context())
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("No servers. Create one with 'msm server create'.")
			return nil
		}
		w := table("NAME\tDISTRO\tVERSION\tPORT\tSTATE\tPID")
		for _, srv := range servers {
			state, pid := "stopped", "-"
			if srv.Running {
				state = "running"
				if srv.PID != nil {
					pid = fmt.Sprintf("%d", *srv.PID)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				srv.Name, srv.Distro, srv.Version, srv.Port, state, pid)
		}
		return w.Flush()
	},
}

var serverStartCmd = &cobra.Command{
	Use:   "start NAME",
	Short: "Start a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		pid, err := c.StartServer(cmd.Context(), srv.ID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Server started: %s (pid %d)\n", srv.Name, pid)
		return nil
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stop a server gracefully",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Stopping %s...\n", srv.Name)
		if err := c.StopServer(cmd.Context(), srv.ID); err != nil {
			return err
		}
		fmt.Printf("✓ Server stopped: %s\n", srv.Name)
		return nil
	},
}

var serverRestartCmd = &cobra.Command{
	Use:   "restart NAME",
	Short: "Restart a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		pid, err := c.RestartServer(cmd.Context(), srv.ID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Server restarted: %s (pid %d)\n", srv.Name, pid)
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show live process status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		st, err := c.ServerStatus(cmd.Context(), srv.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Server: %s (%s %s, port %d)\n", srv.Name, srv.Distro, srv.Version, srv.Port)
		if !st.Running {
			fmt.Println("State:  stopped")
			return nil
		}
		fmt.Println("State:  running")
		if st.PID != nil {
			fmt.Printf("PID:    %d\n", *st.PID)
		}
		fmt.Printf("Uptime: %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
		fmt.Printf("CPU:    %.1f%%\n", st.CPUPercent)
		fmt.Printf("Memory: %.1f MiB\n", float64(st.MemoryBytes)/(1024*1024))
		fmt.Printf("Port:   open=%v\n", st.PortOpen)
		return nil
	},
}

var serverDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keepFiles, _ := cmd.Flags().GetBool("keep-files")
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		if err := c.DeleteServer(cmd.Context(), srv.ID, keepFiles); err != nil {
			return err
		}
		if keepFiles {
			fmt.Printf("✓ Server deleted: %s (files kept at %s)\n", srv.Name, srv.Dir)
		} else {
			fmt.Printf("✓ Server deleted: %s\n", srv.Name)
		}
		return nil
	},
}

var serverVersionsCmd = &cobra.Command{
	Use:   "versions DISTRO",
	Short: "List installable versions for a distribution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshots, _ := cmd.Flags().GetBool("snapshots")
		versions, err := apiClient().Versions(cmd.Context(), types.Distro(args[0]), snapshots)
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	},
}

func init() {
	serverCmd.AddCommand(serverCreateCmd)
	serverCmd.AddCommand(serverImportCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverRestartCmd)
	serverCmd.AddCommand(serverStatusCmd)
	serverCmd.AddCommand(serverDeleteCmd)
	serverCmd.AddCommand(serverVersionsCmd)
	serverCmd.AddCommand(serverConsoleCmd)

	serverCreateCmd.Flags().String("distro", "paper", "Distribution: paper, vanilla, fabric, purpur, forge")
	serverCreateCmd.Flags().String("version", "", "Minecraft version, e.g. 1.21.1")
	serverCreateCmd.Flags().Int("port", 25565, "Game port")
	serverCreateCmd.Flags().String("memory", "2G", "Heap size, e.g. 2G or 512M")
	serverCreateCmd.Flags().String("java", "", "Java binary path (autodetected when empty)")
	serverCreateCmd.Flags().String("java-args", "", "Extra JVM arguments")
	serverCreateCmd.Flags().Bool("restart-on-crash", false, "Restart automatically after a crash")
	_ = serverCreateCmd.MarkFlagRequired("version")

	serverImportCmd.Flags().String("dir", "", "Existing server directory (required)")
	serverImportCmd.Flags().String("distro", "", "Distribution if known")
	serverImportCmd.Flags().String("version", "", "Minecraft version if known")
	serverImportCmd.Flags().Int("port", 25565, "Game port")
	serverImportCmd.Flags().String("memory", "2G", "Heap size")
	serverImportCmd.Flags().String("java", "", "Java binary path")
	_ = serverImportCmd.MarkFlagRequired("dir")

	serverDeleteCmd.Flags().Bool("keep-files", false, "Keep the server directory on disk")

	serverVersionsCmd.Flags().Bool("snapshots", false, "Include snapshot versions")
}
