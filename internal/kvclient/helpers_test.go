package kvclient

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/kvsoup/kvsoup/internal/handshake"
)

func mustFormatHandshake(address string, certDER []byte) string {
	return strings.TrimSuffix(handshake.Format(handshake.TCP, address, certDER), "\n")
}

func nopLogger() hclog.Logger { return hclog.NewNullLogger() }
