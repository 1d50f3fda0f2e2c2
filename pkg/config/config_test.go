package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeTempConfig(t, `
network-name: urn:ogf:network:aruba.net
port: 9080
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NetworkName != "urn:ogf:network:aruba.net" {
		t.Errorf("NetworkName = %q", cfg.NetworkName)
	}
	if cfg.ServiceIDStart != 1 {
		t.Errorf("ServiceIDStart default = %d, want 1", cfg.ServiceIDStart)
	}
}

func TestLoad_MissingNetworkName(t *testing.T) {
	path := writeTempConfig(t, `
port: 9080
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing network-name")
	}
	var cErr *ConfigurationError
	if !asConfigurationError(err, &cErr) {
		t.Errorf("expected *ConfigurationError, got %T: %v", err, err)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	path := writeTempConfig(t, `
network-name: urn:ogf:network:aruba.net
port: 0
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_TLSRequiresKeyAndCert(t *testing.T) {
	cfg := Default()
	cfg.NetworkName = "urn:ogf:network:aruba.net"
	cfg.TLS = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: tls=true with no key/certificate/certificate-dir")
	}

	cfg.Key = "key.pem"
	cfg.Certificate = "cert.pem"
	cfg.CertificateDir = "/etc/nsi-gateway/certs"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9443
	if got, want := cfg.Addr(), "127.0.0.1:9443"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func asConfigurationError(err error, target **ConfigurationError) bool {
	if ce, ok := err.(*ConfigurationError); ok {
		*target = ce
		return true
	}
	return false
}
