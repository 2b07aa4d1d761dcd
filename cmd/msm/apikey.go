package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/types"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
	Long: `Manage API keys.

The API is open until the first key is created; after that every
request needs a key. Create an admin key first and export it as
MSM_API_KEY, or the daemon will lock you out of your own CLI.`,
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create LABEL",
	Short: "Issue a new API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		perm, _ := cmd.Flags().GetString("permission")
		p := types.Permission(perm)
		if !p.Allows(types.PermRead) {
			return fmt.Errorf("invalid permission %q: want read, write, or admin", perm)
		}
		issued, err := apiClient().CreateAPIKey(cmd.Context(), args[0], p)
		if err != nil {
			return err
		}
		fmt.Printf("✓ API key created: %s (%s)\n\n", issued.Label, issued.Permissions)
		fmt.Printf("  %s\n\n", issued.Key)
		fmt.Println("This is the only time the key is shown. Export it as MSM_API_KEY.")
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := apiClient().ListAPIKeys(cmd.Context())
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No API keys. The API accepts unauthenticated requests until one exists.")
			return nil
		}
		w := table("ID\tLABEL\tPREFIX\tPERMISSION\tACTIVE\tLAST USED")
		for _, k := range keys {
			last := "never"
			if k.LastUsed != nil {
				last = k.LastUsed.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%d\t%s\t%s...\t%s\t%v\t%s\n",
				k.ID, k.Label, k.Prefix, k.Permissions, k.Active, last)
		}
		return w.Flush()
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke ID",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := apiClient().RevokeAPIKey(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("✓ API key %d revoked\n", id)
		return nil
	},
}

func init() {
	apikeyCreateCmd.Flags().String("permission", "admin", "Key tier: read, write, or admin")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
}
