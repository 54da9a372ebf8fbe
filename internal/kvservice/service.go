// Package kvservice implements the KV gRPC surface: the Put/Get methods,
// JSON-object enrichment on Put, and the go-plugin GRPCPlugin glue that
// dispenses a KV client/server pair over a gRPC connection.
package kvservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/kvsoup/kvsoup/internal/kverrors"
	proto "github.com/kvsoup/kvsoup/proto/kv"
)

// KV is the interface a storage backend implements to be served over the
// KV gRPC surface.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// PluginName is the name the KV plugin is dispensed under, matching the
// original tofusoup harness's "kv_grpc" plugin key.
const PluginName = "kv_grpc"

// ProtocolVersion is the versioned-plugin protocol number under which the
// KV plugin set is registered.
const ProtocolVersion = 1

// Handshake is the HandshakeConfig shared by the plugin server and client,
// gating accidental direct execution via the magic cookie.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  ProtocolVersion,
	MagicCookieKey:   "BASIC_PLUGIN",
	MagicCookieValue: "hello",
}

// PluginSet returns the VersionedPlugins map go-plugin needs on both the
// server and client side of a KV plugin.
func PluginSet(p *GRPCPlugin) map[int]plugin.PluginSet {
	return map[int]plugin.PluginSet{
		ProtocolVersion: {
			PluginName: p,
		},
	}
}

// GRPCPlugin implements plugin.GRPCPlugin so the KV service can be both
// served (Impl set) and consumed (Impl nil, used only on the client side).
type GRPCPlugin struct {
	plugin.Plugin
	Impl   KV
	Logger hclog.Logger
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	if c == nil {
		return nil, fmt.Errorf("nil gRPC connection")
	}
	return &GRPCClient{client: proto.NewKVClient(c), logger: p.logger()}, nil
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return fmt.Errorf("kvservice: GRPCPlugin.Impl is nil, nothing to serve")
	}
	proto.RegisterKVServer(s, &GRPCServer{impl: p.Impl, logger: p.logger(), startTime: time.Now()})
	return nil
}

func (p *GRPCPlugin) logger() hclog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return hclog.NewNullLogger()
}

// GRPCClient is a KV implementation that talks to a server over gRPC.
type GRPCClient struct {
	client proto.KVClient
	logger hclog.Logger
}

func (c *GRPCClient) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.client.Put(ctx, &proto.PutRequest{Key: key, Value: value})
	if err != nil {
		c.logger.Debug("put failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (c *GRPCClient) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.client.Get(ctx, &proto.GetRequest{Key: key})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, &kverrors.KeyMissing{Key: key}
		}
		c.logger.Debug("get failed", "key", key, "error", err)
		return nil, err
	}
	return resp.Value, nil
}

// GRPCServer adapts a KV implementation to the generated proto.KVServer
// interface, injecting the server_handshake enrichment on Put.
type GRPCServer struct {
	proto.UnimplementedKVServer
	impl      KV
	logger    hclog.Logger
	startTime time.Time
}

// NewGRPCServer builds a GRPCServer directly from a KV implementation,
// for callers outside this package (such as the property test suite)
// that need to drive the enrichment policy without standing up a full
// plugin.Serve loop.
func NewGRPCServer(impl KV, logger hclog.Logger) *GRPCServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &GRPCServer{impl: impl, logger: logger, startTime: time.Now()}
}

func (s *GRPCServer) Put(ctx context.Context, req *proto.PutRequest) (*proto.Empty, error) {
	s.logger.Debug("put", "key", req.Key, "value_size", len(req.Value))

	value := s.enrich(ctx, req.Key, req.Value)
	if err := s.impl.Put(ctx, req.Key, value); err != nil {
		if isLockTimeout(err) {
			return nil, status.Errorf(codes.Internal, "%v", err)
		}
		if isFilesystemConstraint(err) {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return &proto.Empty{}, nil
}

func (s *GRPCServer) Get(ctx context.Context, req *proto.GetRequest) (*proto.GetResponse, error) {
	s.logger.Debug("get", "key", req.Key)

	v, err := s.impl.Get(ctx, req.Key)
	if err != nil {
		if isNotFound(err) {
			return nil, status.Errorf(codes.NotFound, "key not found: %s", req.Key)
		}
		if isFilesystemConstraint(err) {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return &proto.GetResponse{Value: v}, nil
}

// enrich implements §4.D's enrichment policy: if value parses as a JSON
// object, a server_handshake field is injected and the result re-marshaled.
// Any failure along the way falls back to the original bytes unchanged —
// enrichment must never fail the call.
func (s *GRPCServer) enrich(ctx context.Context, key string, value []byte) []byte {
	var obj map[string]interface{}
	if err := json.Unmarshal(value, &obj); err != nil {
		return value
	}

	obj["server_handshake"] = s.handshakeRecord(ctx)

	enriched, err := json.Marshal(obj)
	if err != nil {
		s.logger.Warn("enrichment failed, storing original bytes", "key", key, "error", err)
		return value
	}
	return enriched
}

func (s *GRPCServer) handshakeRecord(ctx context.Context) map[string]interface{} {
	endpoint := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		endpoint = p.Addr.String()
	}

	protoVersion := os.Getenv("PLUGIN_PROTOCOL_VERSIONS")
	if protoVersion == "" {
		protoVersion = "1"
	}

	tlsMode := os.Getenv("TLS_MODE")
	if tlsMode == "" {
		tlsMode = "unknown"
	}

	record := map[string]interface{}{
		"endpoint":         endpoint,
		"protocol_version": protoVersion,
		"tls_mode":         tlsMode,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"received_at":      time.Since(s.startTime).Seconds(),
	}

	if curve, keyType := os.Getenv("TLS_CURVE"), os.Getenv("TLS_KEY_TYPE"); curve != "" || keyType != "" {
		record["tls_config"] = map[string]interface{}{
			"curve":    curve,
			"key_type": keyType,
		}
	}

	record["cert_fingerprint"] = certFingerprint()
	return record
}

func certFingerprint() interface{} {
	path := os.Getenv("PLUGIN_SERVER_CERT")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isNotFound(err error) bool {
	var nf *kverrors.NotFound
	return errors.As(err, &nf)
}

func isLockTimeout(err error) bool {
	var lt *kverrors.LockTimeout
	return errors.As(err, &lt)
}

func isFilesystemConstraint(err error) bool {
	var fc *kverrors.FilesystemConstraint
	return errors.As(err, &fc)
}
