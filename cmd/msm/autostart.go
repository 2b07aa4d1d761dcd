package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/autostart"
)

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Start the daemon at login",
	Long: `Start the daemon at login.

Registers 'msm serve' with the OS login-session service manager:
a systemd user unit on Linux, a launchd agent on macOS. On Windows
the command prints instructions for sc.exe or a service wrapper
instead of registering anything.

Run as the user who will operate the servers, not as root.`,
}

var autostartInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Register the daemon with the login-session service manager",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := autostart.New()
		if err != nil {
			return err
		}
		msg, err := svc.Install()
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s\n", msg)
		return nil
	},
}

var autostartUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Unregister the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := autostart.New()
		if err != nil {
			return err
		}
		msg, err := svc.Uninstall()
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s\n", msg)
		return nil
	},
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the login service is installed and running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := autostart.New()
		if err != nil {
			return err
		}
		status, err := svc.Status()
		if err != nil {
			return err
		}
		fmt.Printf("autostart: %s\n", status)
		return nil
	},
}

func init() {
	autostartCmd.AddCommand(autostartInstallCmd)
	autostartCmd.AddCommand(autostartUninstallCmd)
	autostartCmd.AddCommand(autostartStatusCmd)
}
