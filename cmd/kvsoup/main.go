// Command kvsoup is the CLI shell binding the plugin server runtime,
// client runtime, and conformance harness together: "server" runs the
// plugin server itself, "kv put"/"kv get" drive it as a client, and
// "validate connection" runs a pre-flight compatibility and liveness
// check, per the spec's §4.H.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/kvsoup/kvsoup/internal/kverrors"
)

var (
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:           "kvsoup",
	Short:         "kvsoup is the conformance-core plugin server/client for the polyglot KV matrix",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newLogger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(logLevel),
		Output:     os.Stderr,
		JSONFormat: logJSON,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured JSON logs")

	rootCmd.AddCommand(newServerCmd())
	rootCmd.AddCommand(newKVCmd())
	rootCmd.AddCommand(newValidateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(kverrors.ExitCode(err))
	}
}
