package mqttclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/cepro/cargosim/config"
)

// newTLSConfig returns the TLS settings for connecting to `host`.
// The system roots are always trusted; HiveMQ Cloud and most public brokers chain to ISRG Root X1 which is in them.
// A CA file adds to the roots rather than replacing them.
func newTLSConfig(host string, cfg config.TLSConfig) (*tls.Config, error) {

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in ca file")
		}
	}

	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            pool,
		ServerName:         host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}
