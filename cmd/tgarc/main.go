package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tgarc/tgarc/internal/archive"
)

var version = "dev"

var (
	dirFlag string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "tgarc",
	Short: "Archive a Telegram group as a browsable static site",
	Long: `tgarc mirrors a Telegram group's message history into a local
SQLite archive and renders it as a paginated static site with an RSS feed.

An archive lives in a single directory holding config.toml, data.sqlite,
the downloaded media and the generated site. Sync is incremental: each
run resumes from the last committed message.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tgarc version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tgarc %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "",
		"archive directory (default: $TGARC_DIR or the current directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newCmd, syncCmd, buildCmd, searchCmd, statusCmd, serveCmd, watchCmd, versionCmd)
}

// archiveDir resolves the archive directory for this invocation.
func archiveDir() string {
	return archive.Resolve(dirFlag)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
