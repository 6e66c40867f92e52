package mfhttp

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mediafire/mediafire-go/mferrors"
)

const (
	resolveTimeout = 30 * time.Second
	connectTimeout = 30 * time.Second
	tlsTimeout     = 30 * time.Second
	proxyTimeout   = 30 * time.Second
)

// raceGuard runs work under a timeout, using a raceToken to decide which
// of {work completing, the timeout firing} gets to drive the outcome
// (spec §3 invariants / §9 "Race between I/O completion and timeout").
// conn, if non-nil, is kept alive for the duration and closed if the
// timeout wins.
func raceGuard[T any](ctx context.Context, timeout time.Duration, conn netConnCloser, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token := newRaceToken(conn)
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := work(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if !token.Claim() {
			// the timeout already won; our result is moot.
			return zero, mferrors.New(mferrors.CodeIoTimeout, "operation timed out")
		}
		return r.v, r.err
	case <-ctx.Done():
		if !token.Claim() {
			// work claimed first in a vanishingly narrow race; honor it.
			r := <-done
			return r.v, r.err
		}
		if conn != nil {
			_ = conn.Close()
		}
		return zero, mferrors.New(mferrors.CodeIoTimeout, ctx.Err().Error())
	}
}

// resolveHost resolves host to a set of IP addresses (spec §4.1.1 Resolve
// state), with its own 30s timeout.
func resolveHost(ctx context.Context, host string) ([]net.IPAddr, error) {
	addrs, err := raceGuard(ctx, resolveTimeout, nil, func(ctx context.Context) ([]net.IPAddr, error) {
		return net.DefaultResolver.LookupIPAddr(ctx, host)
	})
	if err != nil {
		if mferrors.CodeOf(err) == mferrors.CodeIoTimeout {
			return nil, err
		}
		return nil, mferrors.Wrap(err, mferrors.CodeUnableToResolve, fmt.Sprintf("resolving %q", host))
	}
	if len(addrs) == 0 {
		return nil, mferrors.New(mferrors.CodeUnableToResolve, fmt.Sprintf("no addresses for %q", host))
	}
	return addrs, nil
}

// dialTCP connects to host:port (spec §4.1.1 Connect state), with its own
// 30s timeout.
func dialTCP(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := raceGuard[net.Conn](ctx, connectTimeout, nil, func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		if mferrors.CodeOf(err) == mferrors.CodeIoTimeout {
			return nil, err
		}
		return nil, mferrors.Wrap(err, mferrors.CodeUnableToConnect, fmt.Sprintf("connecting to %s", addr))
	}
	return conn, nil
}

// proxyConnect issues a CONNECT tunnel request over conn for host:port,
// per spec §4.1.7.
func proxyConnect(ctx context.Context, conn net.Conn, host string, port int, proxy *Proxy) error {
	target := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&b, "User-Agent: HttpRequester\r\n")
	if proxy.HasCredentials() {
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", basicAuth(proxy.Username, proxy.Password))
	}
	b.WriteString("\r\n")

	_, err := raceGuard[int](ctx, proxyTimeout, conn, func(ctx context.Context) (int, error) {
		return writeAll(conn, []byte(b.String()))
	})
	if err != nil {
		return errOr(err, mferrors.CodeUnableToConnectToProxy, "writing CONNECT request")
	}

	status, err := raceGuard(ctx, proxyTimeout, conn, func(ctx context.Context) (string, error) {
		return readProxyStatusLine(conn)
	})
	if err != nil {
		return errOr(err, mferrors.CodeUnableToConnectToProxy, "reading CONNECT response")
	}
	fields := strings.SplitN(status, " ", 3)
	if len(fields) < 2 || fields[1] != "200" {
		return mferrors.New(mferrors.CodeProxyProtocolFailure, fmt.Sprintf("proxy CONNECT failed: %q", status))
	}
	return nil
}

func readProxyStatusLine(conn net.Conn) (string, error) {
	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	statusLine = strings.TrimRight(statusLine, "\r\n")
	// consume the blank line terminating the proxy's response headers
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	return statusLine, nil
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// tlsHandshake performs the TLS handshake over conn for hostname, applying
// the self-signed policy (spec §4.1.9).
func tlsHandshake(ctx context.Context, conn net.Conn, hostname string, cfg *Config) (*tls.Conn, error) {
	verifier := &selfSignedAwareVerifier{hostname: hostname, policy: cfg.SelfSigned, roots: cfg.TLSConfig().RootCAs}
	tc := &tls.Config{
		ServerName:            hostname,
		InsecureSkipVerify:    true, // we run our own VerifyPeerCertificate below
		VerifyPeerCertificate: verifier.verify,
	}
	tlsConn := tls.Client(conn, tc)
	_, err := raceGuard[struct{}](ctx, tlsTimeout, conn, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, tlsConn.HandshakeContext(ctx)
	})
	if err != nil {
		if mferrors.CodeOf(err) == mferrors.CodeIoTimeout {
			return nil, err
		}
		return nil, mferrors.Wrap(err, mferrors.CodeSslHandshakeFailure, verifier.lastSubject)
	}
	return tlsConn, nil
}

// selfSignedAwareVerifier implements the custom chain verification spec
// §4.1.9 requires: hostname verification always applies; the two
// self-signed error codes are suppressed only when the policy permits it.
type selfSignedAwareVerifier struct {
	hostname    string
	policy      SelfSignedPolicy
	roots       *x509.CertPool
	lastSubject string
}

func (v *selfSignedAwareVerifier) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return mferrors.Wrap(err, mferrors.CodeSslHandshakeFailure, "parsing peer certificate")
		}
		certs[i] = cert
	}
	if len(certs) == 0 {
		return mferrors.New(mferrors.CodeSslHandshakeFailure, "no peer certificates presented")
	}
	leaf := certs[0]
	v.lastSubject = leaf.Subject.String()

	if err := leaf.VerifyHostname(v.hostname); err != nil {
		return mferrors.Wrap(err, mferrors.CodeSslHandshakeFailure, fmt.Sprintf("hostname mismatch for %s", v.lastSubject))
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
	})
	if err == nil {
		return nil
	}

	if v.policy == SelfSignedPermitted && isSelfSignedError(certs, err) {
		return nil
	}
	return mferrors.Wrap(err, mferrors.CodeSslHandshakeFailure, fmt.Sprintf("certificate verification failed for %s", v.lastSubject))
}

// isSelfSignedError reports whether err is exactly a self-signed chain
// failure: DEPTH_ZERO_SELF_SIGNED_CERT (the leaf is its own issuer and
// unknown to any root) or SELF_SIGNED_CERT_IN_CHAIN (an intermediate is
// self-signed). All other chain errors (expiry, name constraints, revoked
// intermediate, etc.) remain fatal regardless of policy.
func isSelfSignedError(certs []*x509.Certificate, err error) bool {
	var unknownAuth x509.UnknownAuthorityError
	if !asUnknownAuthority(err, &unknownAuth) {
		return false
	}
	for _, c := range certs {
		if c.Subject.String() == c.Issuer.String() {
			return true
		}
	}
	return false
}

func asUnknownAuthority(err error, target *x509.UnknownAuthorityError) bool {
	if ua, ok := err.(x509.UnknownAuthorityError); ok {
		*target = ua
		return true
	}
	return false
}

func errOr(err error, code mferrors.Code, msg string) error {
	if mferrors.CodeOf(err) == mferrors.CodeIoTimeout {
		return err
	}
	return mferrors.Wrap(err, code, msg)
}

func writeAll(conn net.Conn, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
