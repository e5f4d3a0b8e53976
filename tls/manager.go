package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/saiset-co/sai-pipeline/types"
)

const (
	ModeFiles    = "files"
	ModeAutoCert = "autocert"

	defaultRenewBefore = 7 * 24 * time.Hour
)

var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager builds the server side *tls.Config for the web apps. With a
// certificate pair it serves that pair and can reload it from disk; with
// domains it obtains certificates from ACME and keeps them in CacheDir.
type CertManager struct {
	settings    types.TLSSettings
	logger      types.Logger
	autocertMgr *autocert.Manager
	mu          sync.RWMutex
	cert        *tls.Certificate
	leaf        *x509.Certificate
	renewBefore time.Duration
	now         func() time.Time
}

func NewCertManager(settings types.TLSSettings, logger types.Logger) (*CertManager, error) {
	cm := &CertManager{
		settings:    settings,
		logger:      logger,
		renewBefore: defaultRenewBefore,
		now:         time.Now,
	}

	switch {
	case settings.CertFile != "":
		if err := cm.Reload(); err != nil {
			return nil, err
		}
	case len(settings.Domains) > 0:
		if err := cm.initializeAutocert(); err != nil {
			return nil, err
		}
	default:
		return nil, types.Errorf(types.ErrConfiguration, "tls: cert_file/key_file or domains required")
	}

	logger.Info("TLS configured",
		zap.String("mode", cm.Mode()),
		zap.Strings("domains", settings.Domains))

	return cm, nil
}

func (cm *CertManager) Mode() string {
	if cm.autocertMgr != nil {
		return ModeAutoCert
	}
	return ModeFiles
}

// Reload reads the certificate pair again, so a renewed pair is picked up
// by new handshakes without a restart.
func (cm *CertManager) Reload() error {
	cert, err := tls.LoadX509KeyPair(cm.settings.CertFile, cm.settings.KeyFile)
	if err != nil {
		return types.Errorf(types.ErrConfiguration, "tls: load key pair: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.Errorf(types.ErrConfiguration, "tls: parse certificate: %v", err)
	}

	now := cm.now()
	if now.Before(leaf.NotBefore) {
		return types.Errorf(types.ErrConfiguration, "tls: certificate not yet valid")
	}
	if now.After(leaf.NotAfter) {
		return types.Errorf(types.ErrConfiguration, "tls: certificate expired")
	}

	cm.mu.Lock()
	cm.cert = &cert
	cm.leaf = leaf
	cm.mu.Unlock()

	return nil
}

// TLSConfig only offers http/1.1; fasthttp does not speak h2.
func (cm *CertManager) TLSConfig() *tls.Config {
	if cm.autocertMgr != nil {
		cfg := cm.autocertMgr.TLSConfig()
		cfg.NextProtos = []string{"http/1.1", acme.ALPNProto}
		cfg.MinVersion = tls.VersionTLS12
		cfg.CipherSuites = cipherSuites
		return cfg
	}

	return &tls.Config{
		GetCertificate: cm.getCertificate,
		NextProtos:     []string{"http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CipherSuites:   cipherSuites,
	}
}

// NotAfter is the expiry of the loaded pair. Zero under autocert.
func (cm *CertManager) NotAfter() time.Time {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.leaf == nil {
		return time.Time{}
	}
	return cm.leaf.NotAfter
}

// Check reports an error once the loaded certificate is inside the renewal
// window. Autocert renews by itself.
func (cm *CertManager) Check(context.Context) error {
	notAfter := cm.NotAfter()
	if notAfter.IsZero() {
		return nil
	}

	left := notAfter.Sub(cm.now())
	if left < cm.renewBefore {
		return types.NewErrorf("certificate expires in %s", left.Round(time.Minute))
	}
	return nil
}

func (cm *CertManager) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.cert, nil
}

func (cm *CertManager) initializeAutocert() error {
	cacheDir := cm.settings.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.settings.Domains...),
		Email:      cm.settings.Email,
	}

	if cm.settings.ACMEDirectory != "" {
		cm.autocertMgr.Client = &acme.Client{DirectoryURL: cm.settings.ACMEDirectory}
	}

	return nil
}
