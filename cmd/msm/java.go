package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var javaCmd = &cobra.Command{
	Use:   "java",
	Short: "Manage Java runtimes",
}

var javaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List Java runtimes the daemon can see",
	Long: `List Java runtimes the daemon can see.

Covers system installs found on PATH and in the usual vendor
directories, plus runtimes the daemon downloaded itself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		installs, err := apiClient().ListJava(cmd.Context())
		if err != nil {
			return err
		}
		if len(installs) == 0 {
			fmt.Println("No Java runtimes found. Install one with 'msm java install 21'.")
			return nil
		}
		w := table("MAJOR\tVENDOR\tKIND\tPATH")
		for _, j := range installs {
			kind := "jre"
			if j.IsJDK {
				kind = "jdk"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", j.MajorVersion, j.Vendor, kind, j.Path)
		}
		return w.Flush()
	},
}

var javaInstallCmd = &cobra.Command{
	Use:   "install MAJOR",
	Short: "Download a Java runtime into the daemon's runtime directory",
	Long: `Download a Java runtime into the daemon's runtime directory.

Fetches a Temurin build for the requested major version (e.g. 17, 21)
matching the daemon's OS and architecture. Servers pick it up
automatically when their Minecraft version needs it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		major, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid major version %q: expected a number like 17 or 21", args[0])
		}
		fmt.Printf("Downloading Java %d (this can take a minute)...\n", major)
		j, err := apiClient().InstallJava(cmd.Context(), major)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Java %d installed: %s\n", j.MajorVersion, j.Path)
		return nil
	},
}

func init() {
	javaCmd.AddCommand(javaListCmd)
	javaCmd.AddCommand(javaInstallCmd)
}
