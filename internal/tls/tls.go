// Package tls builds the server-side TLS settings of the daemon API.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	caCrtName = "ca.crt"
	crtName   = "tls.crt"
	keyName   = "tls.key"
)

// Config is the [daemon.tls] section.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"` // holds tls.crt/tls.key when CertFile is empty
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"` // "1.2" or "1.3"
	CommonName   string   `mapstructure:"common_name"`
	Hosts        []string `mapstructure:"hosts"` // DNS names or IPs for generated certificates
	ValidDays    int      `mapstructure:"valid_days"`
}

func parseVersion(ver string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(ver), "tls") {
	case "", "default", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// Paths resolves the certificate and key files Setup will serve.
func (c Config) Paths() (cert, key string, err error) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile, nil
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, crtName), filepath.Join(c.Dir, keyName), nil
	}
	return "", "", errors.New("tls enabled but neither cert_file/key_file nor dir is set")
}

// Setup returns nil when TLS is disabled. With AutoGenerate and a Dir, a
// self-signed pair is written on first use. Certificates are re-read on every
// handshake so rotated files are picked up without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath, err := c.Paths()
	if err != nil {
		return nil, err
	}
	if !filesExist(certPath, keyPath) {
		if !c.AutoGenerate || c.Dir == "" {
			return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
		}
		if err := GenerateSelfSigned(certConfigFor(c, certPath, keyPath)); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	if _, err := loadPair(certPath, keyPath); err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certPath, keyPath)
		},
	}, nil
}

func loadPair(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, err
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &pair, nil
}

func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
