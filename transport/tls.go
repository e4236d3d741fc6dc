package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// VerificationHost is the fixed name certificate verification is checked
// against, regardless of which ensemble IP was actually dialed. Ensemble
// members are chosen by raced IP latency; certificate identity is a
// logical service name, not any one member's address.
const VerificationHost = "service.cometa.io"

// DialTLS opens a TLS connection to addr (an ensemble member's IP:port)
// and verifies the peer certificate against verifyHost rather than
// against addr's host. An empty verifyHost means VerificationHost; tests
// against a mock relay override it. caBundle, if non-empty, names a PEM
// file added to the system trust store; pass "" to trust the system store
// alone.
func DialTLS(addr, caBundle, verifyHost string, timeout time.Duration) (net.Conn, error) {
	pool, err := trustStore(caBundle)
	if err != nil {
		return nil, err
	}
	if verifyHost == "" {
		verifyHost = VerificationHost
	}

	cfg := &tls.Config{
		// Certificate identity is checked manually in VerifyConnection
		// against the fixed verification host, not against addr's host,
		// so the library's own chain-and-name verification is disabled
		// here and replaced entirely.
		InsecureSkipVerify: true,
		RootCAs:            pool,
		MinVersion:         tls.VersionTLS12,
	}
	cfg.VerifyConnection = func(state tls.ConnectionState) error {
		return verifyHostname(state, pool, verifyHost)
	}

	dialer := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(dialer, "tcp", addr, cfg)
}

// trustStore returns the system root pool augmented with an optional
// bundled CA file (rootcert.pem in the working directory, or any path the
// caller names).
func trustStore(caBundle string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if caBundle == "" {
		return pool, nil
	}
	pem, err := os.ReadFile(caBundle)
	if err != nil {
		return nil, fmt.Errorf("transport: reading CA bundle %s: %w", caBundle, err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("transport: no certificates found in %s", caBundle)
	}
	return pool, nil
}

// verifyHostname builds the peer's verified chain against pool (ignoring
// the connection's own notion of ServerName, since InsecureSkipVerify
// disabled that), then checks the leaf certificate's identity against
// host: subjectAltName DNS entries first, falling back to the
// certificate's common name, case-insensitively.
func verifyHostname(state tls.ConnectionState, pool *x509.CertPool, host string) error {
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("transport: no peer certificates presented")
	}
	leaf := state.PeerCertificates[0]

	intermediates := x509.NewCertPool()
	for _, cert := range state.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         pool,
		Intermediates: intermediates,
	}); err != nil {
		return fmt.Errorf("transport: certificate chain verification failed: %w", err)
	}

	for _, name := range leaf.DNSNames {
		if strings.EqualFold(name, host) {
			return nil
		}
	}
	if strings.EqualFold(leaf.Subject.CommonName, host) {
		return nil
	}
	return fmt.Errorf("transport: certificate identity %q/%v does not match required host %q",
		leaf.Subject.CommonName, leaf.DNSNames, host)
}
