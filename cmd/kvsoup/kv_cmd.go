package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-plugin"
	"github.com/spf13/cobra"

	"github.com/kvsoup/kvsoup/internal/kvclient"
	"github.com/kvsoup/kvsoup/internal/kvservice"
)

// defaultCallTimeout bounds put/get RPCs per §5's cancellation model.
const defaultCallTimeout = 15 * time.Second

func newKVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "put/get values against a plugin KV server",
	}
	cmd.AddCommand(newKVPutCmd())
	cmd.AddCommand(newKVGetCmd())
	return cmd
}

func newKVPutCmd() *cobra.Command {
	var address, tlsCurve string

	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "put a key/value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], []byte(args[1])

			client, kv, err := connectKV(address, tlsCurve)
			if err != nil {
				return err
			}
			defer client.Kill()

			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			defer cancel()

			if err := kv.Put(ctx, key, value); err != nil {
				return fmt.Errorf("put %q: %w", key, err)
			}
			fmt.Printf("put %s\n", key)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "reattach to an existing server at host:port or a handshake line, instead of spawning one")
	cmd.Flags().StringVar(&tlsCurve, "tls-curve", "auto", "client cert curve for reattach mTLS: auto|secp256r1|secp384r1|secp521r1")
	return cmd
}

func newKVGetCmd() *cobra.Command {
	var address, tlsCurve string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "get a value, exiting 2 if the key was never put",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			client, kv, err := connectKV(address, tlsCurve)
			if err != nil {
				return err
			}
			defer client.Kill()

			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			defer cancel()

			value, err := kv.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("get %q: %w", key, err)
			}
			fmt.Printf("%s\n", value)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "reattach to an existing server at host:port or a handshake line, instead of spawning one")
	cmd.Flags().StringVar(&tlsCurve, "tls-curve", "auto", "client cert curve for reattach mTLS: auto|secp256r1|secp384r1|secp521r1")
	return cmd
}

// connectKV builds a plugin client (spawning this same binary as a server
// subprocess, or reattaching to address if given) and dispenses the KV
// interface from it, per the spec's §4.F spawn and reattach paths.
func connectKV(address, tlsCurve string) (*plugin.Client, kvservice.KV, error) {
	logger := newLogger("kvsoup.client")

	var client *plugin.Client
	var err error

	if address != "" {
		client, err = kvclient.Reattach(kvclient.ReattachConfig{
			AddressOrHandshake: address,
			TLSCurve:           tlsCurve,
			Logger:             logger,
		})
	} else {
		serverPath := os.Getenv("PLUGIN_SERVER_PATH")
		if serverPath == "" {
			serverPath, err = os.Executable()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve self executable as server path: %w", err)
			}
		}
		client, err = kvclient.Spawn(kvclient.SpawnConfig{
			ServerPath: serverPath,
			Args:       []string{"server"},
			Logger:     logger,
		})
	}
	if err != nil {
		return nil, nil, err
	}

	kv, err := kvclient.Dispense(client)
	if err != nil {
		client.Kill()
		return nil, nil, err
	}
	return client, kv, nil
}
