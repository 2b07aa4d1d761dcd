package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage cron schedules",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a schedule on a server",
	Long: `Create a schedule on a server.

Actions: restart, backup, command. Cron expressions use the standard
five fields (minute hour day-of-month month day-of-week) and fire in
the daemon's local time. A command action needs --payload with the
console command to run.

Examples:
  msm schedule create survival --action backup --cron "0 4 * * *"
  msm schedule create survival --action restart --cron "30 6 * * 1"
  msm schedule create survival --action command --cron "0 * * * *" --payload "say hourly!"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		cron, _ := cmd.Flags().GetString("cron")
		payload, _ := cmd.Flags().GetString("payload")
		disabled, _ := cmd.Flags().GetBool("disabled")

		c, srv, err := resolveServer(cmd, args[0])
		if err != nil {
			return err
		}
		sc, err := c.CreateSchedule(cmd.Context(), srv.ID, &types.CreateScheduleSpec{
			Action:  types.ScheduleAction(action),
			Cron:    cron,
			Payload: payload,
			Enabled: !disabled,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Schedule %d created: %s %s on %s\n", sc.ID, sc.Action, sc.Cron, srv.Name)
		if sc.NextRun != nil {
			fmt.Printf("  next run: %s\n", sc.NextRun.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List schedules, optionally for one server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()
		var (
			schedules []*types.Schedule
			err       error
		)
		if len(args) == 1 {
			_, srv, rerr := resolveServer(cmd, args[0])
			if rerr != nil {
				return rerr
			}
			schedules, err = c.ListServerSchedules(cmd.Context(), srv.ID)
		} else {
			schedules, err = c.ListSchedules(cmd.Context())
		}
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules.")
			return nil
		}
		names := map[int64]string{}
		if servers, err := c.ListServers(cmd.Context()); err == nil {
			for _, s := range servers {
				names[s.ID] = s.Name
			}
		}
		w := table("ID\tSERVER\tACTION\tCRON\tENABLED\tNEXT RUN")
		for _, sc := range schedules {
			next := "-"
			if sc.NextRun != nil {
				next = sc.NextRun.Format("2006-01-02 15:04")
			}
			name := names[sc.ServerID]
			if name == "" {
				name = fmt.Sprintf("#%d", sc.ServerID)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%s\n",
				sc.ID, name, sc.Action, sc.Cron, sc.Enabled, next)
		}
		return w.Flush()
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduleEnabled(cmd, args[0], true) },
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Disable a schedule without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduleEnabled(cmd, args[0], false) },
}

func setScheduleEnabled(cmd *cobra.Command, arg string, enabled bool) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	sc, err := apiClient().UpdateSchedule(cmd.Context(), id, &types.UpdateScheduleSpec{Enabled: &enabled})
	if err != nil {
		return err
	}
	state := "disabled"
	if sc.Enabled {
		state = "enabled"
	}
	fmt.Printf("✓ Schedule %d %s\n", sc.ID, state)
	return nil
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := apiClient().DeleteSchedule(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("✓ Schedule %d deleted\n", id)
		return nil
	},
}

func init() {
	scheduleCreateCmd.Flags().String("action", "", "What to do: restart, backup, or command")
	scheduleCreateCmd.Flags().String("cron", "", "Five-field cron expression")
	scheduleCreateCmd.Flags().String("payload", "", "Console command for --action command")
	scheduleCreateCmd.Flags().Bool("disabled", false, "Create the schedule disabled")
	_ = scheduleCreateCmd.MarkFlagRequired("action")
	_ = scheduleCreateCmd.MarkFlagRequired("cron")

	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
}
