package conformance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is a proof manifest's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Manifest is the durable proof artifact for one matrix cell, per §3's
// Proof Manifest data model. It is the authoritative test result: a cell
// passes iff its manifest exists with Status == StatusSuccess and
// KVStorageFiles names files that actually exist with matching contents.
type Manifest struct {
	TestName        string                 `json:"test_name"`
	ClientType      Implementation         `json:"client_type"`
	ServerType      Implementation         `json:"server_type"`
	TLSMode         TLSMode                `json:"tls_mode"`
	CryptoType      string                 `json:"crypto_type"`
	KeysWritten     []string               `json:"keys_written"`
	UserData        map[string]interface{} `json:"user_data,omitempty"`
	Status          Status                 `json:"status"`
	Timestamp       string                 `json:"timestamp"`
	ServerHandshake map[string]interface{} `json:"server_handshake,omitempty"`
	ClientHandshake map[string]interface{} `json:"client_handshake,omitempty"`
	KVStorageFiles  []string               `json:"kv_storage_files"`
	Error           string                 `json:"error,omitempty"`
}

// NewPendingManifest starts a manifest in the pending state, to be
// finalized by MarkSuccess or MarkFailure once the cell's Put/Get round
// trip completes.
func NewPendingManifest(cell Cell, testName string) *Manifest {
	return &Manifest{
		TestName:   testName,
		ClientType: cell.Client,
		ServerType: cell.Server,
		TLSMode:    cell.TLS,
		CryptoType: cell.Crypto.Name,
		Status:     StatusPending,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// MarkSuccess transitions the manifest to success, per §4.G step 4: this
// only happens after a Get returns matching bytes (mod enrichment).
func (m *Manifest) MarkSuccess(keysWritten []string, storageFiles []string, serverHandshake, clientHandshake map[string]interface{}) {
	m.Status = StatusSuccess
	m.KeysWritten = keysWritten
	m.KVStorageFiles = storageFiles
	m.ServerHandshake = serverHandshake
	m.ClientHandshake = clientHandshake
}

// MarkFailure transitions the manifest to failure, capturing the
// triggering error per §7's propagation policy.
func (m *Manifest) MarkFailure(err error) {
	m.Status = StatusFailure
	m.Error = err.Error()
}

// Write persists the manifest to <proofDir>/<test_name>_<unix_timestamp>.json,
// per §6's proof manifest layout.
func (m *Manifest) Write(proofDir string) (string, error) {
	if err := os.MkdirAll(proofDir, 0o755); err != nil {
		return "", fmt.Errorf("create proof directory: %w", err)
	}

	path := filepath.Join(proofDir, fmt.Sprintf("%s_%d.json", m.TestName, time.Now().Unix()))

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads a previously written manifest, used by tests and
// operators to inspect a proof artifact after the fact.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}
