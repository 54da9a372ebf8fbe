package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kvsoup/kvsoup/internal/kvserver"
)

func newServerCmd() *cobra.Command {
	var (
		storageDir string
		tlsMode    string
		tlsCurve   string
		tlsKeyType string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "start a plugin server and emit the go-plugin handshake on stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags override the environment contract's variables (§6) so
			// that the same Config-from-env code path in kvserver serves
			// both the CLI and a bare-env invocation equally.
			setEnvIfFlagSet(cmd, "storage-dir", "KV_STORAGE_DIR", storageDir)
			setEnvIfFlagSet(cmd, "tls-mode", "TLS_MODE", tlsMode)
			setEnvIfFlagSet(cmd, "tls-curve", "TLS_CURVE", tlsCurve)
			setEnvIfFlagSet(cmd, "tls-key-type", "TLS_KEY_TYPE", tlsKeyType)

			cfg := kvserver.ConfigFromEnv()
			logger := newLogger("kvsoup.server")
			return kvserver.Run(cfg, logger)
		},
	}

	cmd.Flags().StringVar(&storageDir, "storage-dir", "", "directory backing kv-data-<key> files (default: KV_STORAGE_DIR or system temp)")
	cmd.Flags().StringVar(&tlsMode, "tls-mode", "", "disabled|auto|manual (default: TLS_MODE or auto)")
	cmd.Flags().StringVar(&tlsCurve, "tls-curve", "", "auto|secp256r1|secp384r1|secp521r1 (default: TLS_CURVE)")
	cmd.Flags().StringVar(&tlsKeyType, "tls-key-type", "", "ec|rsa (default: TLS_KEY_TYPE)")

	return cmd
}

func setEnvIfFlagSet(cmd *cobra.Command, flag, envVar, value string) {
	if cmd.Flags().Changed(flag) {
		os.Setenv(envVar, value)
	}
}
