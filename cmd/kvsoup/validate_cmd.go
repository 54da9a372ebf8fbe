package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvsoup/kvsoup/internal/conformance"
	"github.com/kvsoup/kvsoup/internal/kvclient"
	"github.com/kvsoup/kvsoup/internal/kverrors"
)

// sentinelKey is the key a connection check probes with a Get, per §4.H:
// the Get must either succeed or fail with NotFound (KeyMissing), not with
// a transport-level error, for the connection to be judged live.
const sentinelKey = "__connection_test_key__"

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "pre-flight validation commands",
	}
	cmd.AddCommand(newValidateConnectionCmd())
	return cmd
}

func newValidateConnectionCmd() *cobra.Command {
	var (
		clientImpl string
		serverImpl string
		curve      string
	)

	cmd := &cobra.Command{
		Use:   "connection",
		Short: "static compatibility check plus a live sentinel Get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cell := conformance.Cell{
				Client: conformance.Implementation(clientImpl),
				Server: conformance.Implementation(serverImpl),
				TLS:    conformance.TLSAuto,
				Crypto: conformance.CryptoConfig{Name: "ec_" + curve},
			}
			table := conformance.DefaultCompatibilityTable()
			if !table.Allowed(cell) {
				fmt.Printf("FAIL: %s -> %s is documented-incompatible: %s\n", clientImpl, serverImpl, table.Reason(cell))
				return &kverrors.CurveIncompatible{ServerCurve: curve, ClientNote: table.Reason(cell)}
			}

			serverPath := serverImpl
			if serverPath == "" || serverPath == "go" {
				var err error
				serverPath, err = os.Executable()
				if err != nil {
					return fmt.Errorf("resolve self executable: %w", err)
				}
			}

			logger := newLogger("kvsoup.validate")
			client, err := kvclient.Spawn(kvclient.SpawnConfig{
				ServerPath: serverPath,
				Args:       []string{"server"},
				Logger:     logger,
			})
			if err != nil {
				fmt.Printf("FAIL: could not start server: %v\n", err)
				return err
			}
			defer client.Kill()

			kv, err := kvclient.Dispense(client)
			if err != nil {
				fmt.Printf("FAIL: could not dispense KV plugin: %v\n", err)
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			defer cancel()
			_, err = kv.Get(ctx, sentinelKey)
			var keyMissing *kverrors.KeyMissing
			if err != nil && !errors.As(err, &keyMissing) {
				fmt.Printf("FAIL: sentinel get failed: %v\n", err)
				return err
			}

			fmt.Println("PASS: connection validated successfully")
			return nil
		},
	}

	cmd.Flags().StringVar(&clientImpl, "client", "go", "client implementation name")
	cmd.Flags().StringVar(&serverImpl, "server", "go", "server implementation name or path to a binary")
	cmd.Flags().StringVar(&curve, "curve", "256", "crypto dimension to check, e.g. 256, 384, 521")

	return cmd
}
