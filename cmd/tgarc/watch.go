package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tgarc/tgarc/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run sync and build on an interval until stopped",
	Long: `Run sync followed by build, then repeat every interval. The
archive lock is held for the whole session, so no other tgarc invocation
can touch the archive meanwhile. Stop with SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		every, _ := cmd.Flags().GetDuration("every")
		symlink, _ := cmd.Flags().GetBool("symlink")

		app := fx.New(
			watch.Module(watch.Params{
				Dir:      archiveDir(),
				Interval: every,
				Symlink:  symlink,
			}),
		)
		app.Run()

		if err := app.Err(); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Duration("every", 15*time.Minute, "interval between sync+build cycles")
	watchCmd.Flags().Bool("symlink", false, "symlink media and static directories instead of copying")
}
