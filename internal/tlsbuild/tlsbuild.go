// Package tlsbuild turns a httpspec.Configuration's TLS fields into a
// crypto/tls.Config, adapted from the teacher's internal/tlsconfig:
// same replace-vs-append root CA discipline and client cert loading, now
// keyed off the engine's own Configuration type and error taxonomy.
package tlsbuild

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"

	"github.com/unkn0wn-root/httpengine/errdef"
	"github.com/unkn0wn-root/httpengine/httpspec"
)

// Build constructs a tls.Config for one exchange from cfg. Paths in
// cfg.RootCAs / ClientCertPath / ClientKeyPath are resolved relative to
// baseDir when not absolute. sessionCache, when non-nil, is installed for
// TLS session resumption across pooled connections.
func Build(cfg httpspec.Configuration, baseDir string, sessionCache tls.ClientSessionCache) (*tls.Config, error) {
	tc := &tls.Config{
		InsecureSkipVerify: !cfg.SSLVerifyPeer, //nolint:gosec
	}
	if sessionCache != nil {
		tc.ClientSessionCache = sessionCache
	}

	if len(cfg.RootCAs) > 0 {
		pool, err := loadRootCAs(cfg.RootCAs, baseDir, cfg.RootCAAppend)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	} else if sys, err := x509.SystemCertPool(); err == nil && sys != nil {
		tc.RootCAs = sys
	}

	// SSLVerifyHost=false with SSLVerifyPeer=true means verify the chain
	// but not the hostname, mirrored via a custom VerifyPeerCertificate
	// that redoes chain verification without the server name.
	if cfg.SSLVerifyPeer && !cfg.SSLVerifyHost {
		tc.InsecureSkipVerify = true
		roots := tc.RootCAs
		tc.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChainOnly(rawCerts, roots)
		}
	}

	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" {
		if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
			return nil, errdef.New(errdef.CodeBadSetup, "client certificate and key are both required")
		}
		cert, err := loadClientCert(cfg.ClientCertPath, cfg.ClientKeyPath, baseDir)
		if err != nil {
			return nil, err
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

func verifyChainOnly(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errdef.New(errdef.CodeSSLConnectError, "no peer certificate presented")
	}
	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return errdef.Wrap(errdef.CodeSSLConnectError, err, "parse peer certificate")
		}
		certs[i] = cert
	}
	opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return errdef.Wrap(errdef.CodePeerFailedVerify, err, "verify peer certificate chain")
	}
	return nil
}

func loadRootCAs(paths []string, baseDir string, mergeSystem bool) (*x509.CertPool, error) {
	var pool *x509.CertPool
	if mergeSystem {
		pool, _ = x509.SystemCertPool()
	}
	if pool == nil {
		pool = x509.NewCertPool()
	}

	for _, p := range paths {
		resolved := resolvePath(p, baseDir)
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeBadSetup, err, "read root ca %s", p)
		}
		if ok := pool.AppendCertsFromPEM(data); !ok {
			return nil, errdef.New(errdef.CodeBadSetup, "append cert from %s", p)
		}
	}
	return pool, nil
}

func loadClientCert(certPath, keyPath, baseDir string) (tls.Certificate, error) {
	certFile := resolvePath(certPath, baseDir)
	keyFile := resolvePath(keyPath, baseDir)
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, errdef.Wrap(errdef.CodeBadSetup, err, "load client certificate")
	}
	return cert, nil
}

func resolvePath(path, baseDir string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(baseDir, path))
}
