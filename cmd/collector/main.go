package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// runError carries, in code, the process exit status per spec.md §6:
// 0 normal, 1 config error, 2 startup failure, 130 interrupted.
type runError struct {
	code int
	err  error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var re *runError
		if as(err, &re) {
			os.Exit(re.code)
		}
		os.Exit(1)
	}
}

// as is a local equivalent of errors.As for *runError: it walks the
// Unwrap chain without importing errors.
func as(err error, target **runError) bool {
	for err != nil {
		if re, ok := err.(*runError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "collector - market-data collection and archival engine",
	Long: `collector subscribes to one or more market-data providers,
validates and archives the resulting trade/quote/depth stream, and
self-monitors provider health so degraded feeds can be failed over
before they corrupt the archive.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"collector version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
