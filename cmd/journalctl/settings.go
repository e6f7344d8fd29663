package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musebar/legaljournal/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the automatic closure settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			st, err := e.settings.Get(ctx)
			if err != nil {
				return err
			}
			return printSettings(st)
		})
	},
}

var (
	setEnabled bool
	setTime    string
	setZone    string
	setGrace   int
)

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update closure settings; unset flags keep their stored value",
	Long: `set changes the automatic closure settings. A running journald picks
the change up once its settings cache expires.

  journalctl settings set --time 03:00 --grace 45
  journalctl settings set --enabled=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			st, err := e.settings.Get(ctx)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("enabled") {
				st.AutoClosureEnabled = setEnabled
			}
			if flags.Changed("time") {
				st.DailyClosureTime = setTime
			}
			if flags.Changed("timezone") {
				st.Timezone = setZone
			}
			if flags.Changed("grace") {
				st.GracePeriodMinutes = setGrace
			}
			st, err = e.settings.Update(ctx, st, actor)
			if err != nil {
				return err
			}
			return printSettings(st)
		})
	},
}

func printSettings(st settings.Settings) error {
	if outputFormat == "json" {
		return printJSON(st)
	}
	fmt.Printf("%s: %t\n", settings.KeyAutoClosureEnabled, st.AutoClosureEnabled)
	fmt.Printf("%s: %s\n", settings.KeyDailyClosureTime, st.DailyClosureTime)
	fmt.Printf("%s: %s\n", settings.KeyTimezone, st.Timezone)
	fmt.Printf("%s: %d\n", settings.KeyGracePeriodMinutes, st.GracePeriodMinutes)
	return nil
}

func init() {
	f := settingsSetCmd.Flags()
	f.BoolVar(&setEnabled, "enabled", true, "Enable automatic daily closure")
	f.StringVar(&setTime, "time", "", "Daily closure time, HH:MM")
	f.StringVar(&setZone, "timezone", "", "IANA timezone, e.g. Europe/Paris")
	f.IntVar(&setGrace, "grace", 0, "Grace period in minutes")
	settingsCmd.AddCommand(settingsSetCmd)
}
