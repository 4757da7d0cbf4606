// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TLSTestCerts holds paths to generated test certificates. ClientCommonName
// records the client certificate's Subject.CommonName.
type TLSTestCerts struct {
	CAFile         string
	ServerCertFile string
	ServerKeyFile  string
	ClientCertFile string
	ClientKeyFile  string
	ClientCommonName string
}

// GenerateTestCerts generates a CA, server cert, and client cert for testing,
// with the client certificate's CommonName set to "mqtt-test-client". All
// certificates are written to a temporary directory that's cleaned up when
// the test ends.
func GenerateTestCerts(t *testing.T) *TLSTestCerts {
	t.Helper()
	return GenerateTestCertsWithClientCN(t, "mqtt-test-client")
}

// GenerateTestCertsWithClientCN is GenerateTestCerts with a caller-chosen
// client certificate CommonName.
func GenerateTestCertsWithClientCN(t *testing.T, clientCN string) *TLSTestCerts {
	t.Helper()

	tempDir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate CA key: %v", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Mercurio Test CA"},
			CommonName:   "Mercurio Test CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("Failed to create CA certificate: %v", err)
	}

	caFile := filepath.Join(tempDir, "ca.crt")
	writePEM(t, caFile, "CERTIFICATE", caCertDER)

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("Failed to parse CA certificate: %v", err)
	}

	serverCertFile, serverKeyFile := issueLeaf(t, tempDir, "server", caCert, caKey, &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{Organization: []string{"Mercurio Test Broker"}, CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	})

	clientCertFile, clientKeyFile := issueLeaf(t, tempDir, "client", caCert, caKey, &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{Organization: []string{"Mercurio Test Client"}, CommonName: clientCN},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})

	return &TLSTestCerts{
		CAFile:           caFile,
		ServerCertFile:   serverCertFile,
		ServerKeyFile:    serverKeyFile,
		ClientCertFile:   clientCertFile,
		ClientKeyFile:    clientKeyFile,
		ClientCommonName: clientCN,
	}
}

// issueLeaf signs template with the given CA key/cert and writes the
// resulting certificate and EC private key as PEM files named "{name}.crt"
// and "{name}.key" under dir.
func issueLeaf(t *testing.T, dir, name string, caCert *x509.Certificate, caKey *ecdsa.PrivateKey, template *x509.Certificate) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate %s key: %v", name, err)
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("Failed to create %s certificate: %v", name, err)
	}

	certFile = filepath.Join(dir, name+".crt")
	writePEM(t, certFile, "CERTIFICATE", certDER)

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal %s key: %v", name, err)
	}

	keyFile = filepath.Join(dir, name+".key")
	writePEM(t, keyFile, "EC PRIVATE KEY", keyBytes)

	return certFile, keyFile
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// LoadServerTLSConfig loads a TLS config for the server from test certificates.
func LoadServerTLSConfig(t *testing.T, certs *TLSTestCerts, clientAuth tls.ClientAuthType) *tls.Config {
	t.Helper()

	cert, err := tls.LoadX509KeyPair(certs.ServerCertFile, certs.ServerKeyFile)
	if err != nil {
		t.Fatalf("Failed to load server certificate: %v", err)
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if clientAuth != tls.NoClientCert {
		caCert, err := os.ReadFile(certs.CAFile)
		if err != nil {
			t.Fatalf("Failed to read CA cert: %v", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			t.Fatal("Failed to parse CA certificate")
		}

		config.ClientCAs = caCertPool
		config.ClientAuth = clientAuth
	}

	return config
}

// LoadClientTLSConfig loads a TLS config for the client from test certificates.
func LoadClientTLSConfig(t *testing.T, certs *TLSTestCerts, useClientCert bool) *tls.Config {
	t.Helper()

	caCert, err := os.ReadFile(certs.CAFile)
	if err != nil {
		t.Fatalf("Failed to read CA cert: %v", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		t.Fatal("Failed to parse CA certificate")
	}

	config := &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}

	if useClientCert {
		cert, err := tls.LoadX509KeyPair(certs.ClientCertFile, certs.ClientKeyFile)
		if err != nil {
			t.Fatalf("Failed to load client certificate: %v", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config
}
