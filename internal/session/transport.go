package session

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/yanun0323/errors"
)

const dialTimeout = 10 * time.Second

// dial opens the order-entry TCP connection, wrapping it in TLS when the
// venue requires it.
func dial(endpoint string, useTLS bool) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	if !useTLS {
		conn, err := d.Dial("tcp", endpoint)
		if err != nil {
			return nil, errors.Wrap(err, "dial order entry")
		}
		return conn, nil
	}

	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "split endpoint")
	}
	conn, err := tls.DialWithDialer(&d, "tcp", endpoint, &tls.Config{ServerName: host})
	if err != nil {
		return nil, errors.Wrap(err, "dial order entry tls")
	}
	return conn, nil
}
