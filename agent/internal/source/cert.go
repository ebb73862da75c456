package source

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/obsidianstack/pagescore/agent/internal/config"
)

const (
	certDialTimeout = 10 * time.Second
	certExpiryDays  = 30
)

// Certificate states.
const (
	CertValid       = "valid"
	CertExpiring    = "expiring"
	CertExpired     = "expired"
	CertUnreachable = "unreachable"
)

// CertStatus describes the leaf certificate presented by an HTTPS source.
type CertStatus struct {
	Endpoint string
	Status   string
	DaysLeft int
	Issuer   string
	NotAfter time.Time
}

// CheckCert dials the TLS endpoint of an http source and inspects its leaf
// certificate. It returns nil for sources that are not served over HTTPS.
func CheckCert(ctx context.Context, src config.Source) *CertStatus {
	u, err := url.Parse(src.Endpoint)
	if src.Type != "http" || err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{Endpoint: src.Endpoint}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, certDialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = CertUnreachable
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		cs.Status = CertUnreachable
		return cs
	}

	leaf := peers[0]
	daysLeft := time.Until(leaf.NotAfter).Hours() / 24

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = CertExpired
	case daysLeft <= certExpiryDays:
		cs.Status = CertExpiring
	default:
		cs.Status = CertValid
	}
	return cs
}
