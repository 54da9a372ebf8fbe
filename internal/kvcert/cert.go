// Package kvcert generates ephemeral self-signed certificates for the
// plugin handshake's AutoMTLS negotiation, and detects the curve used by a
// peer's certificate so a compatible one can be generated in response.
package kvcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/kvsoup/kvsoup/internal/kverrors"
)

// CurveName is one of the canonical curve identifiers from the spec's data
// model, plus "rsa" for RSA key pairs and "auto" as a sentinel meaning
// "let the callee decide."
type CurveName string

const (
	P256 CurveName = "secp256r1"
	P384 CurveName = "secp384r1"
	P521 CurveName = "secp521r1"
	RSA  CurveName = "rsa"
	Auto CurveName = "auto"

	validity = 365 * 24 * time.Hour
)

// aliases maps the human-friendly spellings used in env vars and CLI flags
// onto the canonical CurveName values.
var aliases = map[string]CurveName{
	"secp256r1": P256, "p-256": P256, "p256": P256,
	"secp384r1": P384, "p-384": P384, "p384": P384,
	"secp521r1": P521, "p-521": P521, "p521": P521,
}

// Normalize resolves a curve name spelling (case-insensitive) to its
// canonical form, or returns UnsupportedCurve.
func Normalize(name string) (CurveName, error) {
	lower := strings.ToLower(name)
	if c, ok := aliases[lower]; ok {
		return c, nil
	}
	return "", &kverrors.UnsupportedCurve{Name: name}
}

func ellipticCurve(name CurveName) (elliptic.Curve, error) {
	switch name {
	case P256:
		return elliptic.P256(), nil
	case P384:
		return elliptic.P384(), nil
	case P521:
		return elliptic.P521(), nil
	default:
		return nil, &kverrors.UnsupportedCurve{Name: string(name)}
	}
}

// Identity names whose certificate is being generated: "server" or
// "client", embedded in the CommonName per the spec's data model.
type Identity string

const (
	ServerIdentity Identity = "server"
	ClientIdentity Identity = "client"
)

// Generate produces a self-signed ECDSA certificate on the given curve.
// Caller owns the returned PEM bytes; no filesystem side effects.
func Generate(curve CurveName, id Identity) (certPEM, keyPEM []byte, err error) {
	ecCurve, err := ellipticCurve(curve)
	if err != nil {
		return nil, nil, err
	}

	priv, err := ecdsa.GenerateKey(ecCurve, rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate private key: %w", err)
	}

	template, err := template(id)
	if err != nil {
		return nil, nil, err
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	return encodePair(der, "CERTIFICATE", keyDER, "EC PRIVATE KEY")
}

// GenerateRSA produces a self-signed RSA certificate at the given key size
// (2048 or 4096), per the conformance matrix's RSA crypto configurations.
func GenerateRSA(bits int, id Identity) (certPEM, keyPEM []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate rsa key: %w", err)
	}

	template, err := template(id)
	if err != nil {
		return nil, nil, err
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	keyDER := x509.MarshalPKCS1PrivateKey(priv)

	return encodePair(der, "CERTIFICATE", keyDER, "RSA PRIVATE KEY")
}

func encodePair(certDER []byte, certType string, keyDER []byte, keyType string) ([]byte, []byte, error) {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: certType, Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func template(id Identity) (*x509.Certificate, error) {
	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   fmt.Sprintf("kvsoup.rpc.%s", id),
			Organization: []string{"kvsoup"},
		},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}, nil
}

// DetectCurve inspects a parsed certificate's public key and returns the
// canonical curve name, or "rsa" if the key is RSA.
func DetectCurve(cert *x509.Certificate) (CurveName, error) {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		switch pub.Curve {
		case elliptic.P256():
			return P256, nil
		case elliptic.P384():
			return P384, nil
		case elliptic.P521():
			return P521, nil
		default:
			return "", fmt.Errorf("unknown elliptic curve: %s", pub.Curve.Params().Name)
		}
	case *rsa.PublicKey:
		return RSA, nil
	default:
		return "", fmt.Errorf("unsupported public key type %T", pub)
	}
}

// LeafDER parses a PEM certificate and returns the raw DER bytes of its
// leaf, for embedding in the handshake line.
func LeafDER(certPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no CERTIFICATE PEM block found")
	}
	return block.Bytes, nil
}

// X509KeyPair is a thin wrapper around tls.X509KeyPair, kept here so
// callers never need to import crypto/tls just to load a generated pair.
func X509KeyPair(certPEM, keyPEM []byte) (tls.Certificate, error) {
	return tls.X509KeyPair(certPEM, keyPEM)
}

// ParseLeaf parses the leaf certificate out of a PEM blob.
func ParseLeaf(certPEM []byte) (*x509.Certificate, error) {
	der, err := LeafDER(certPEM)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}
