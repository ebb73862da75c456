package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/obsidianstack/pagescore/agent/internal/config"
)

// defaultDial creates a lazily connecting client for endpoint. Connection
// errors surface on the first SendReport.
func defaultDial(_ context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	creds, err := transportCreds(cfg.ServerAuth)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
}

// transportCreds returns mutual TLS credentials in mtls mode and plaintext
// otherwise. API keys travel as per-call metadata.
func transportCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	if auth.Mode != "mtls" {
		return insecure.NewCredentials(), nil
	}

	pair, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("shipper: client certificate: %w", err)
	}
	tc := &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}
	if auth.CAFile == "" {
		return credentials.NewTLS(tc), nil
	}

	pem, err := os.ReadFile(auth.CAFile)
	if err != nil {
		return nil, fmt.Errorf("shipper: ca bundle: %w", err)
	}
	tc.RootCAs = x509.NewCertPool()
	if !tc.RootCAs.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("shipper: ca bundle %q holds no certificates", auth.CAFile)
	}
	return credentials.NewTLS(tc), nil
}
