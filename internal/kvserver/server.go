// Package kvserver implements the plugin server runtime: cookie check,
// storage setup, TLS configuration, and the plugin.Serve loop, per the
// spec's §4.E.
package kvserver

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	"github.com/kvsoup/kvsoup/internal/kvcert"
	"github.com/kvsoup/kvsoup/internal/kverrors"
	"github.com/kvsoup/kvsoup/internal/kvservice"
	"github.com/kvsoup/kvsoup/internal/kvstore"
)

// TLSMode is one of the three transport-security strategies named in the
// environment contract (§6).
type TLSMode string

const (
	TLSDisabled TLSMode = "disabled"
	TLSAuto     TLSMode = "auto"
	TLSManual   TLSMode = "manual"
)

// Config holds the server runtime's environment-derived configuration.
type Config struct {
	MagicCookieKey   string
	MagicCookieValue string
	StorageDir       string
	TLSMode          TLSMode
	TLSCurve         string // "" or "auto" defers to go-plugin's built-in AutoMTLS
	TLSKeyType       string // "ec" or "rsa"
	ClientCertPEM    string // PLUGIN_CLIENT_CERT, used for mTLS client verification
	ProtocolVersions string
	LogLevel         string
}

// ConfigFromEnv builds a Config from the process environment, applying the
// defaults named in §6's environment contract table.
func ConfigFromEnv() Config {
	cfg := Config{
		MagicCookieKey:   os.Getenv("PLUGIN_MAGIC_COOKIE_KEY"),
		StorageDir:       os.Getenv("KV_STORAGE_DIR"),
		TLSMode:          TLSMode(os.Getenv("TLS_MODE")),
		TLSCurve:         os.Getenv("TLS_CURVE"),
		TLSKeyType:       os.Getenv("TLS_KEY_TYPE"),
		ClientCertPEM:    os.Getenv("PLUGIN_CLIENT_CERT"),
		ProtocolVersions: os.Getenv("PLUGIN_PROTOCOL_VERSIONS"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}
	if cfg.MagicCookieKey == "" {
		cfg.MagicCookieKey = kvservice.Handshake.MagicCookieKey
	}
	cfg.MagicCookieValue = kvservice.Handshake.MagicCookieValue
	if cfg.StorageDir == "" {
		cfg.StorageDir = os.TempDir()
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSAuto
	}
	if cfg.ProtocolVersions == "" {
		cfg.ProtocolVersions = "1"
	}
	return cfg
}

// checkCookie implements COOKIE_CHECK: the server refuses to start (no
// handshake emitted) if the expected env var is absent or mismatched.
func checkCookie(cfg Config) error {
	got := os.Getenv(cfg.MagicCookieKey)
	if got != cfg.MagicCookieValue {
		return &kverrors.CookieMismatch{Key: cfg.MagicCookieKey, Expected: cfg.MagicCookieValue, Got: got}
	}
	return nil
}

// Run executes the full server lifecycle: COOKIE_CHECK, storage setup, TLS
// configuration, and plugin.Serve (which performs BIND, TLS_CONFIG,
// HANDSHAKE_EMITTED, and SERVING internally). It blocks until the process
// receives SIGINT/SIGTERM; plugin.Serve does not return on its own.
func Run(cfg Config, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.Default()
	}

	logger.Info("kvserver starting", "storage_dir", cfg.StorageDir, "tls_mode", cfg.TLSMode)

	if err := checkCookie(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return err
	}

	store, err := kvstore.New(cfg.StorageDir, logger.Named("kvstore"))
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	grpcPlugin := &kvservice.GRPCPlugin{
		Impl:   kvservice.StoreAdapter{Store: store},
		Logger: logger.Named("kv-grpc"),
	}

	var grpcServer *grpc.Server
	serveConfig := &plugin.ServeConfig{
		HandshakeConfig:  kvservice.Handshake,
		VersionedPlugins: kvservice.PluginSet(grpcPlugin),
		Logger:           logger,
		GRPCServer: func(opts []grpc.ServerOption) *grpc.Server {
			grpcServer = grpc.NewServer(opts...)
			return grpcServer
		},
	}

	applyTLS(serveConfig, cfg, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Info("draining", "signal", sig, "timeout", DefaultShutdownTimeout)

		drained := make(chan struct{})
		go func() {
			if grpcServer != nil {
				grpcServer.GracefulStop()
			}
			close(drained)
		}()

		select {
		case <-drained:
			logger.Info("drained cleanly")
		case <-time.After(DefaultShutdownTimeout):
			logger.Warn("drain timeout exceeded, forcing stop")
			if grpcServer != nil {
				grpcServer.Stop()
			}
		}
		os.Exit(0)
	}()

	logger.Info("serving")
	plugin.Serve(serveConfig)
	logger.Info("exited")
	return nil
}

// applyTLS implements the TLS_CONFIG branching from §4.E: disabled mode
// leaves TLSProvider unset (plaintext), auto+auto-curve leaves it unset so
// go-plugin's built-in AutoMTLS (P-521) takes over, auto+explicit EC curve
// installs a TLSProvider that generates a certificate on that curve and
// verifies the env-supplied client certificate, auto+RSA falls back to
// AutoMTLS with a warning (§9 open question: TLSProvider-based RSA support
// is not implemented), and manual mode falls back to AutoMTLS with a
// warning since file-based cert loading is out of scope.
func applyTLS(serveConfig *plugin.ServeConfig, cfg Config, logger hclog.Logger) {
	switch cfg.TLSMode {
	case TLSDisabled:
		logger.Info("TLS disabled")
		return
	case TLSManual:
		logger.Warn("manual TLS mode not implemented, falling back to AutoMTLS")
		return
	case TLSAuto:
		// fall through to the curve/key-type decision below
	default:
		logger.Warn("unknown TLS mode, falling back to AutoMTLS", "mode", cfg.TLSMode)
		return
	}

	useBuiltinAutoMTLS := cfg.TLSCurve == "" || strings.EqualFold(cfg.TLSCurve, "auto")
	if useBuiltinAutoMTLS {
		logger.Info("using go-plugin's built-in AutoMTLS (P-521)")
		return
	}

	if strings.EqualFold(cfg.TLSKeyType, "rsa") {
		logger.Warn("TLS_CURVE is ignored for RSA key type, falling back to AutoMTLS", "curve", cfg.TLSCurve)
		return
	}

	curve, err := kvcert.Normalize(cfg.TLSCurve)
	if err != nil {
		logger.Warn("unrecognized TLS_CURVE, falling back to AutoMTLS", "curve", cfg.TLSCurve, "error", err)
		return
	}

	logger.Info("using TLSProvider with explicit curve", "curve", curve)
	serveConfig.TLSProvider = tlsProvider(logger, curve, cfg.ClientCertPEM)
}

// tlsProvider builds a go-plugin TLSProvider function that generates a
// fresh server certificate on the given curve, and configures mTLS against
// the client certificate supplied via PLUGIN_CLIENT_CERT when present.
func tlsProvider(logger hclog.Logger, curve kvcert.CurveName, clientCertPEM string) func() (*tls.Config, error) {
	return func() (*tls.Config, error) {
		logger.Debug("TLSProvider invoked, generating certificate", "curve", curve)

		certPEM, keyPEM, err := kvcert.Generate(curve, kvcert.ServerIdentity)
		if err != nil {
			return nil, fmt.Errorf("generate server certificate: %w", err)
		}

		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("load server certificate: %w", err)
		}

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}

		if clientCertPEM != "" {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM([]byte(clientCertPEM)) {
				return nil, fmt.Errorf("parse client certificate from PLUGIN_CLIENT_CERT")
			}
			tlsConfig.ClientCAs = pool
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}

		logger.Info("TLS configuration ready", "curve", curve, "mtls", clientCertPEM != "")
		return tlsConfig, nil
	}
}

// DefaultShutdownTimeout bounds DRAINING per §4.E's state machine: Run's
// shutdown goroutine waits this long for grpcServer.GracefulStop to finish
// in-flight RPCs before forcing a hard Stop and exiting.
const DefaultShutdownTimeout = 5 * time.Second
