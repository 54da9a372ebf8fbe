// Package kvclient implements the plugin client runtime: spawning a new
// server process, reattaching to one already running, and dispensing the
// KV interface over the resulting go-plugin connection, per the spec's
// §4.F.
package kvclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/kvsoup/kvsoup/internal/handshake"
	"github.com/kvsoup/kvsoup/internal/kvcert"
	"github.com/kvsoup/kvsoup/internal/kverrors"
	"github.com/kvsoup/kvsoup/internal/kvservice"
)

// SpawnConfig configures a freshly-spawned plugin server process.
type SpawnConfig struct {
	ServerPath string
	Args       []string
	Env        []string // additional env vars, appended to os.Environ()
	Logger     hclog.Logger
	StorageDir string
}

// Spawn starts a new plugin server subprocess and returns a go-plugin
// client wired for AutoMTLS, matching newRPCClient's bootstrapping
// strategy: the client enables AutoMTLS and lets go-plugin negotiate the
// handshake and certificate directly, with no prior knowledge of the
// server's curve.
func Spawn(cfg SpawnConfig) (*plugin.Client, error) {
	if cfg.ServerPath == "" {
		return nil, fmt.Errorf("kvclient: ServerPath is required")
	}
	if _, err := os.Stat(cfg.ServerPath); err != nil {
		return nil, fmt.Errorf("kvclient: server binary not found: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	storageDir := cfg.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}

	cmd := exec.Command(cfg.ServerPath, cfg.Args...)
	cmd.Env = append(os.Environ(), "KV_STORAGE_DIR="+storageDir)
	cmd.Env = append(cmd.Env, cfg.Env...)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  kvservice.Handshake,
		VersionedPlugins: kvservice.PluginSet(&kvservice.GRPCPlugin{}),
		Cmd:              cmd,
		Logger:           logger,
		AutoMTLS:         true,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
	})

	return client, nil
}

// ParsedTarget is the result of parsing a reattach target: either a bare
// "host:port" address or a full go-plugin handshake line.
type ParsedTarget struct {
	Reattach   *plugin.ReattachConfig
	TLSConfig  *tls.Config
	ServerCert *x509.Certificate
	Hostname   string
}

// ParseTarget parses either a bare TCP address or a full handshake line
// (as emitted by a server started with the server subcommand and printed
// to stdout) into a reattach target, grounded on parseHandshakeOrAddress.
func ParseTarget(addressOrHandshake string) (*ParsedTarget, error) {
	if !strings.Contains(addressOrHandshake, "|") {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addressOrHandshake)
		if err != nil {
			return nil, fmt.Errorf("resolve address %q: %w", addressOrHandshake, err)
		}
		return &ParsedTarget{
			Reattach: &plugin.ReattachConfig{
				Protocol:        plugin.ProtocolGRPC,
				ProtocolVersion: handshake.ProtoVersion,
				Addr:            tcpAddr,
			},
			Hostname: tcpAddr.IP.String(),
		}, nil
	}

	line, err := handshake.Parse(addressOrHandshake)
	if err != nil {
		return nil, err
	}

	var addr net.Addr
	var hostname string
	switch line.Network {
	case handshake.Unix:
		addr, err = net.ResolveUnixAddr("unix", line.Address)
		hostname = "localhost"
	default:
		var tcpAddr *net.TCPAddr
		tcpAddr, err = net.ResolveTCPAddr("tcp", line.Address)
		addr = tcpAddr
		if tcpAddr != nil {
			hostname = tcpAddr.IP.String()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve handshake address: %w", err)
	}

	target := &ParsedTarget{
		Reattach: &plugin.ReattachConfig{
			Protocol:        plugin.ProtocolGRPC,
			ProtocolVersion: handshake.ProtoVersion,
			Addr:            addr,
		},
		Hostname: hostname,
	}

	if line.HasCert() {
		cert, err := x509.ParseCertificate(line.CertDER)
		if err != nil {
			return nil, fmt.Errorf("parse server certificate: %w", err)
		}
		target.ServerCert = cert
		target.TLSConfig = serverTrustConfig(cert, hostname)
	}

	return target, nil
}

// serverTrustConfig builds a client-side *tls.Config that trusts exactly
// the server certificate embedded in the handshake line, picking a
// ServerName that matches one of the certificate's SANs (the cert carries
// "localhost" as a DNS SAN rather than an IP SAN for 127.0.0.1).
func serverTrustConfig(cert *x509.Certificate, hostname string) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(cert)

	serverName := hostname
	if hostname == "127.0.0.1" {
		for _, dns := range cert.DNSNames {
			if dns == "localhost" {
				serverName = "localhost"
				break
			}
		}
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}
}

// ReattachConfig configures a client that attaches to an already-running
// server instead of spawning a new one.
type ReattachConfig struct {
	AddressOrHandshake string
	TLSCurve           string // "" or "auto" detects from the server certificate
	Logger             hclog.Logger
}

// Reattach builds a go-plugin client that connects to an existing server
// process, following newReattachClient's strategy: if the target carries
// a server certificate, a compatible client certificate is generated
// (auto-detecting the server's curve unless one is specified) and wired
// in via GRPCDialOptions rather than go-plugin's AutoMTLS, since AutoMTLS
// would override the hand-picked client certificate with its own P-521
// default.
func Reattach(cfg ReattachConfig) (*plugin.Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	target, err := ParseTarget(cfg.AddressOrHandshake)
	if err != nil {
		return nil, err
	}

	clientConfig := &plugin.ClientConfig{
		HandshakeConfig:  kvservice.Handshake,
		VersionedPlugins: kvservice.PluginSet(&kvservice.GRPCPlugin{}),
		Reattach:         target.Reattach,
		Logger:           logger,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
	}

	if target.TLSConfig != nil {
		clientCurve, err := resolveClientCurve(cfg.TLSCurve, target.ServerCert, logger)
		if err != nil {
			return nil, err
		}

		clientCertPEM, clientKeyPEM, err := kvcert.Generate(clientCurve, kvcert.ClientIdentity)
		if err != nil {
			return nil, fmt.Errorf("generate client certificate: %w", err)
		}
		clientCert, err := tls.X509KeyPair(clientCertPEM, clientKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}

		tlsConfig := target.TLSConfig
		tlsConfig.Certificates = []tls.Certificate{clientCert}

		clientConfig.GRPCDialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		}
	}

	return plugin.NewClient(clientConfig), nil
}

// resolveClientCurve picks the client certificate's curve: "auto" (the
// default) detects the server's curve from its certificate and falls back
// to P-256 if there is no certificate, detection fails, or the server key
// is RSA; any other value is used as-is after normalization.
func resolveClientCurve(requested string, serverCert *x509.Certificate, logger hclog.Logger) (kvcert.CurveName, error) {
	if requested == "" || strings.EqualFold(requested, "auto") {
		if serverCert == nil {
			return kvcert.P256, nil
		}
		detected, err := kvcert.DetectCurve(serverCert)
		if err != nil {
			logger.Warn("failed to detect curve from server certificate, defaulting to P-256", "error", err)
			return kvcert.P256, nil
		}
		if detected == kvcert.RSA {
			logger.Info("server certificate uses RSA, generating a P-256 client certificate")
			return kvcert.P256, nil
		}
		return detected, nil
	}
	return kvcert.Normalize(requested)
}

// Dispense retrieves the KV plugin interface from an established
// go-plugin client connection.
func Dispense(client *plugin.Client) (kvservice.KV, error) {
	rpcClient, err := client.Client()
	if err != nil {
		return nil, fmt.Errorf("create plugin rpc client: %w", err)
	}

	raw, err := rpcClient.Dispense(kvservice.PluginName)
	if err != nil {
		return nil, fmt.Errorf("dispense %s plugin: %w", kvservice.PluginName, err)
	}

	kv, ok := raw.(kvservice.KV)
	if !ok {
		return nil, fmt.Errorf("dispensed plugin does not implement kvservice.KV (got %T)", raw)
	}
	return kv, nil
}

// CheckCurveCompatibility returns kverrors.CurveIncompatible if the
// client-requested curve cannot possibly match the server's, before a
// dial is even attempted. RSA servers never carry a detectable curve, so
// a non-"auto" EC curve request against one is always a mismatch.
func CheckCurveCompatibility(requestedCurve string, serverKeyType string) error {
	if requestedCurve == "" || strings.EqualFold(requestedCurve, "auto") {
		return nil
	}
	if strings.EqualFold(serverKeyType, "rsa") {
		return &kverrors.CurveIncompatible{ServerCurve: "rsa", ClientNote: requestedCurve}
	}
	return nil
}
