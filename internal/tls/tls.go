package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/mcconsole/internal/config"
)

const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// Setup builds the listener TLS configuration from the daemon config.
// Returns (nil, nil) when TLS is disabled.
func Setup(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	minVer := uint16(tls.VersionTLS13)
	if v, ok := parseVersion(cfg.MinVersion); ok {
		minVer = v
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return newConfig(cfg.CertFile, cfg.KeyFile, minVer), nil
	}

	if cfg.Dir != "" {
		certPath := filepath.Join(cfg.Dir, certName)
		keyPath := filepath.Join(cfg.Dir, keyName)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(cfg); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer), nil
	}

	return nil, errors.New("tls enabled but neither cert_file/key_file nor dir configured")
}

// newConfig loads the key pair lazily per handshake, so a rotated
// certificate on disk is picked up without a daemon restart.
func newConfig(certPath, keyPath string, minVer uint16) *tls.Config {
	baseDir := filepath.Dir(certPath)
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			certPEM, err := safeReadFile(baseDir, certPath)
			if err != nil {
				return nil, err
			}
			keyPEM, err := safeReadFile(baseDir, keyPath)
			if err != nil {
				return nil, err
			}
			cert, err := tls.X509KeyPair(certPEM, keyPEM)
			return &cert, err
		},
	}
}

// safeReadFile refuses paths that escape the certificate directory.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
			return nil, errors.New("file path outside of certificate directory")
		}
	}
	return os.ReadFile(clean)
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(cfg *config.TLSConfig) error {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}

	commonName := cfg.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	dnsNames := cfg.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	validDays := cfg.ValidDays
	if validDays <= 0 {
		validDays = 365
	}

	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: "mcconsole",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(cfg.Dir, certName),
		KeyPath:      filepath.Join(cfg.Dir, keyName),
		CACertPath:   filepath.Join(cfg.Dir, caCertName),
	})
}
