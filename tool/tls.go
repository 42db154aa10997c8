package tool

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/moyoez/assetlink/types"
)

// GetOrCreateTLSCertificate loads the certificate stored in cfg, or generates a new
// self-signed one and stores its PEM in cfg. generated reports whether cfg changed and
// should be persisted. fingerprint is the hex SHA-256 of the certificate DER.
func GetOrCreateTLSCertificate(cfg *types.AppConfig) (cert tls.Certificate, fingerprint string, generated bool, err error) {
	if cfg.CertPEM != "" && cfg.KeyPEM != "" {
		cert, fingerprint, err = loadTLSCertFromPEM(cfg.CertPEM, cfg.KeyPEM)
		if err == nil {
			DefaultLogger.Infof("Loaded existing TLS certificate from config")
			return cert, fingerprint, false, nil
		}
		DefaultLogger.Warnf("Certificate in config is invalid or expired: %v, regenerating...", err)
	}

	certDER, keyDER, err := generateTLSCert()
	if err != nil {
		return tls.Certificate{}, "", false, err
	}
	cfg.CertPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	cfg.KeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))

	cert, fingerprint, err = loadTLSCertFromPEM(cfg.CertPEM, cfg.KeyPEM)
	if err != nil {
		return tls.Certificate{}, "", false, err
	}
	DefaultLogger.Infof("TLS certificate generated and stored in config")
	return cert, fingerprint, true, nil
}

// loadTLSCertFromPEM parses the key pair and rejects expired certificates.
func loadTLSCertFromPEM(certPEM, keyPEM string) (tls.Certificate, string, error) {
	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("failed to load TLS key pair: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("failed to parse certificate: %v", err)
	}
	if time.Now().After(leaf.NotAfter) {
		return tls.Certificate{}, "", fmt.Errorf("certificate has expired")
	}
	sum := sha256.Sum256(leaf.Raw)
	return cert, hex.EncodeToString(sum[:]), nil
}

// generateTLSCert generates a new self-signed ECDSA certificate valid for one year.
func generateTLSCert() (certDER []byte, keyDER []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA private key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "assetlink",
			Organization: []string{"assetlink"},
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(time.Hour * 24 * 365),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err = x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %v", err)
	}
	keyDER, err = x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal ECDSA private key: %v", err)
	}
	return certDER, keyDER, nil
}
