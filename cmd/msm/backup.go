package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/types"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage server backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Take a backup of a server's world directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		b, err := c.CreateBackup(cmd.Context(), srv.ID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Backup %d created: %s (%s)\n", b.ID, b.Path, humanSize(b.SizeBytes))
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List backups, optionally for one server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()
		var (
			backups []*types.Backup
			err     error
		)
		if len(args) == 1 {
			_, srv, rerr := resolveServer(cmd, args[0])
			if rerr != nil {
				return rerr
			}
			backups, err = c.ListServerBackups(cmd.Context(), srv.ID)
		} else {
			backups, err = c.ListBackups(cmd.Context())
		}
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Println("No backups.")
			return nil
		}
		w := table("ID\tSERVER\tKIND\tSTATUS\tSIZE\tCREATED")
		for _, b := range backups {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				b.ID, b.ServerName, b.Kind, b.Status,
				humanSize(b.SizeBytes), b.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Restore a backup into its server's directory",
	Long: `Restore a backup into its server's directory.

The server must be stopped; the daemon refuses to unpack over a live
world. The current directory contents are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := apiClient().RestoreBackup(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("✓ Backup %d restored\n", id)
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a backup archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := apiClient().DeleteBackup(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("✓ Backup %d deleted\n", id)
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune NAME",
	Short: "Delete a server's oldest backups beyond the retention count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		n, err := c.PruneBackups(cmd.Context(), srv.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("Nothing to prune.")
			return nil
		}
		fmt.Printf("✓ Pruned %d backup(s)\n", n)
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: expected a number", s)
	}
	return id, nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupPruneCmd)
}
