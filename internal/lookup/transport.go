package lookup

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// TransportConfig carries the TLS and proxy material for the request
// executor. Empty fields leave the Go defaults in place.
type TransportConfig struct {
	Cert               string        `mapstructure:"cert"`       // PEM client certificate path
	Key                string        `mapstructure:"key"`        // PEM private key path
	Passphrase         string        `mapstructure:"passphrase"` // for an encrypted Key
	CA                 string        `mapstructure:"ca"`         // PEM CA bundle path
	Proxy              string        `mapstructure:"proxy"`
	RejectUnauthorized *bool         `mapstructure:"reject_unauthorized"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// NewHTTPClient builds the HTTP client used for every API call.
func NewHTTPClient(cfg TransportConfig) (*http.Client, error) {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: DefaultMaxConcurrent,
		IdleConnTimeout:     30 * time.Second,
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.Cert != "" || cfg.Key != "" {
		if cfg.Cert == "" || cfg.Key == "" {
			return nil, errors.New("transport: cert and key must be set together")
		}
		cert, err := loadKeyPair(cfg.Cert, cfg.Key, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CA != "" {
		pemData, err := os.ReadFile(cfg.CA)
		if err != nil {
			return nil, fmt.Errorf("transport: read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("transport: no certificates found in %s", cfg.CA)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.RejectUnauthorized != nil && !*cfg.RejectUnauthorized {
		tlsCfg.InsecureSkipVerify = true //nolint:gosec
	}
	tr.TLSClientConfig = tlsCfg

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("transport: parse proxy: %w", err)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}

func loadKeyPair(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: read key: %w", err)
	}

	if passphrase != "" {
		block, _ := pem.Decode(keyPEM)
		if block == nil {
			return tls.Certificate{}, fmt.Errorf("transport: no PEM block in %s", keyPath)
		}
		//nolint:staticcheck // legacy PEM encryption is what the passphrase option targets
		if x509.IsEncryptedPEMBlock(block) {
			der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("transport: decrypt key: %w", err)
			}
			keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: load key pair: %w", err)
	}
	return cert, nil
}
