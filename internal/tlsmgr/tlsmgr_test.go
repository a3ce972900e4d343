package tlsmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iSundram/gruxi/pkg/models"
)

// generateSelfSigned builds an ephemeral self-signed cert/key PEM pair so
// tests don't depend on files on disk.
func generateSelfSigned(t *testing.T) (certPEM, keyPEM string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gruxi-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM
}

func TestGetCertificateMatchesSNI(t *testing.T) {
	certPEM, keyPEM := generateSelfSigned(t)
	m := New()
	m.Update(&models.ConfigSnapshot{
		Sites: []models.Site{
			{ID: 1, IsEnabled: true, Hostnames: []string{"www.example.com"}, TLSCertContent: certPEM, TLSKeyContent: keyPEM},
		},
	})

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "www.example.com"})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil {
		t.Fatal("expected a non-nil certificate")
	}
}

func TestGetCertificateCachesAcrossCalls(t *testing.T) {
	certPEM, keyPEM := generateSelfSigned(t)
	m := New()
	m.Update(&models.ConfigSnapshot{
		Sites: []models.Site{
			{ID: 1, IsEnabled: true, Hostnames: []string{"www.example.com"}, TLSCertContent: certPEM, TLSKeyContent: keyPEM},
		},
	})

	hello := &tls.ClientHelloInfo{ServerName: "www.example.com"}
	first, err := m.GetCertificate(hello)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	second, err := m.GetCertificate(hello)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if first != second {
		t.Error("expected the cached *tls.Certificate to be reused across calls")
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	certPEM, keyPEM := generateSelfSigned(t)
	m := New()
	snap := &models.ConfigSnapshot{Sites: []models.Site{
		{ID: 1, IsEnabled: true, Hostnames: []string{"www.example.com"}, TLSCertContent: certPEM, TLSKeyContent: keyPEM},
	}}
	m.Update(snap)

	hello := &tls.ClientHelloInfo{ServerName: "www.example.com"}
	first, err := m.GetCertificate(hello)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}

	m.Update(snap) // same snapshot contents, new pointer: cache must be dropped
	second, err := m.GetCertificate(hello)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if first == second {
		t.Error("expected Update to invalidate the certificate cache")
	}
}

func TestGetCertificateNoMatchingSite(t *testing.T) {
	m := New()
	m.Update(&models.ConfigSnapshot{})
	if _, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"}); err == nil {
		t.Fatal("expected an error when no site matches SNI")
	}
}

func TestGetCertificateNoSnapshotLoaded(t *testing.T) {
	m := New()
	if _, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "anything"}); err == nil {
		t.Fatal("expected an error before any snapshot has been loaded")
	}
}

func TestMatchSiteLiteralBeatsWildcard(t *testing.T) {
	certPEM, keyPEM := generateSelfSigned(t)
	m := New()
	snap := &models.ConfigSnapshot{Sites: []models.Site{
		{ID: 1, IsEnabled: true, Hostnames: []string{"*.example.com"}, TLSCertContent: certPEM, TLSKeyContent: keyPEM},
		{ID: 2, IsEnabled: true, Hostnames: []string{"www.example.com"}, TLSCertContent: certPEM, TLSKeyContent: keyPEM},
	}}
	got := m.matchSite(snap, "www.example.com")
	if got == nil || got.ID != 2 {
		t.Fatalf("expected literal site 2 to win, got %+v", got)
	}
}

func TestLoadCertificatePathTakesPrecedenceOverContent(t *testing.T) {
	pathCertPEM, pathKeyPEM := generateSelfSigned(t)
	contentCertPEM, contentKeyPEM := generateSelfSigned(t)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, []byte(pathCertPEM), 0o600); err != nil {
		t.Fatalf("WriteFile cert: %v", err)
	}
	if err := os.WriteFile(keyFile, []byte(pathKeyPEM), 0o600); err != nil {
		t.Fatalf("WriteFile key: %v", err)
	}

	// Both path and content are set; the on-disk file must win per spec.md §4.1.
	wantFromPath, err := tls.X509KeyPair([]byte(pathCertPEM), []byte(pathKeyPEM))
	if err != nil {
		t.Fatalf("X509KeyPair(path materials): %v", err)
	}

	got, err := loadCertificate(models.Site{
		ID:             1,
		TLSCertPath:    certFile,
		TLSCertContent: contentCertPEM,
		TLSKeyPath:     keyFile,
		TLSKeyContent:  contentKeyPEM,
	})
	if err != nil {
		t.Fatalf("loadCertificate: %v", err)
	}
	if len(got.Certificate) == 0 || len(wantFromPath.Certificate) == 0 ||
		string(got.Certificate[0]) != string(wantFromPath.Certificate[0]) {
		t.Fatal("expected loadCertificate to prefer the cert path's content over inline PEM content")
	}
}

func TestLoadCertificateFallsBackToContentWhenNoPath(t *testing.T) {
	certPEM, keyPEM := generateSelfSigned(t)
	got, err := loadCertificate(models.Site{ID: 1, TLSCertContent: certPEM, TLSKeyContent: keyPEM})
	if err != nil {
		t.Fatalf("loadCertificate: %v", err)
	}
	if got == nil {
		t.Fatal("expected a certificate built from inline content")
	}
}

func TestConfigOffersALPN(t *testing.T) {
	m := New()
	cfg := m.Config()
	if len(cfg.NextProtos) != 2 || cfg.NextProtos[0] != "h2" || cfg.NextProtos[1] != "http/1.1" {
		t.Errorf("NextProtos = %v, want [h2 http/1.1]", cfg.NextProtos)
	}
	if cfg.GetCertificate == nil {
		t.Error("expected Config to wire GetCertificate")
	}
}
