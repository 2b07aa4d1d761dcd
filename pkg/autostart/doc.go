/*
Package autostart registers the supervisor as a login service.

It writes the platform's user-level service definition and drives the
service manager, so "msm serve" comes up with the operator's session and
restarts on failure:

	Linux   ~/.config/systemd/user/msm.service   (systemctl --user)
	macOS   ~/Library/LaunchAgents/com.craftd.msm.plist  (launchctl)
	Windows no install; Install returns sc.exe/WinSW instructions

# Usage

	svc, err := autostart.New()
	if err != nil {
		return err
	}
	msg, err := svc.Install()
	if err != nil {
		return err
	}
	fmt.Println(msg)

Status reports "not installed", "stopped", or "running" ("unsupported"
on Windows). Uninstall stops the service and removes the definition.

Install and Uninstall refuse to run elevated: a user service installed
as root lands in root's session, where no one is logged in to run it.

# See Also

  - pkg/platform for the elevation check
  - cmd/msm for the autostart subcommands
*/
package autostart
