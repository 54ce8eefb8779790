// Package security loads TLS material for the API server and for outbound
// connections to Kafka and the aggregation plugin, and resolves secret
// references in the configuration.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
	ClientAuth         bool   `yaml:"client_auth,omitempty"` // Server side: require certificates signed by CAFile
	MinVersion         string `yaml:"min_version,omitempty"` // "1.2" (default) or "1.3"
}

var tlsVersions = map[string]uint16{
	"":    tls.VersionTLS12,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// Validate checks the configuration without touching the filesystem
func (c TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("cert_file and key_file must be set together"))
	}
	if _, ok := tlsVersions[c.MinVersion]; !ok {
		errs = append(errs, fmt.Errorf("unsupported min_version %q", c.MinVersion))
	}
	if c.ClientAuth && c.CAFile == "" {
		errs = append(errs, errors.New("client_auth requires ca_file"))
	}
	return errors.Join(errs...)
}

// LoadTLSConfig loads and creates a TLS configuration. It returns nil when
// TLS is disabled.
func LoadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:         tlsVersions[cfg.MinVersion],
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate and key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		tlsConfig.RootCAs = caCertPool
		tlsConfig.ClientCAs = caCertPool
	}
	if cfg.ClientAuth {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

// LoadServerTLSConfig is LoadTLSConfig for listeners, which need a certificate
func LoadServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if cfg.Enabled && cfg.CertFile == "" {
		return nil, errors.New("cert_file and key_file are required to serve TLS")
	}
	return LoadTLSConfig(cfg)
}

// ResolveSecret resolves a secret reference.
// Supports format: env:VAR_NAME, file:/path/to/secret, or plain text
func ResolveSecret(ref string) (string, error) {
	if envVar, ok := strings.CutPrefix(ref, "env:"); ok {
		value := os.Getenv(envVar)
		if value == "" {
			return "", fmt.Errorf("environment variable %s not found", envVar)
		}
		return value, nil
	}

	if filePath, ok := strings.CutPrefix(ref, "file:"); ok {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	return ref, nil
}
