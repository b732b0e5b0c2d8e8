package weather

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/http/httpproxy"

	appLog "agendalive/internal/log"
)

// ClientOptions configures the outbound HTTP client.
type ClientOptions struct {
	Timeout time.Duration
	// CABundle is a PEM file used when the platform trust store is unavailable.
	CABundle string
	// Proxy overrides HTTP_PROXY / HTTPS_PROXY when set.
	Proxy string
}

// NewHTTPClient builds the forecast client. Trust roots are taken from the
// platform pool, then CABundle, then the runtime default. Proxies come from
// opts.Proxy, then the environment. Neither step can fail the client.
func NewHTTPClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	pool, source := rootCAs(opts.CABundle)
	tr.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}
	tr.Proxy = proxyFunc(opts.Proxy)

	appLog.Debug("weather http client ready", "tls_roots", source, "proxy_override", opts.Proxy != "", "timeout", opts.Timeout.String())
	return &http.Client{Timeout: opts.Timeout, Transport: tr}
}

// rootCAs returns the first usable trust store and a short name for logs.
// A nil pool makes crypto/tls use its built-in default.
func rootCAs(bundle string) (*x509.CertPool, string) {
	if pool, err := x509.SystemCertPool(); err == nil && pool != nil {
		return pool, "system"
	} else if err != nil {
		appLog.Debug("system cert pool unavailable", "err", err.Error())
	}

	if bundle != "" {
		pem, err := os.ReadFile(bundle)
		if err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				return pool, "bundle"
			}
			appLog.Warn("ca bundle contains no certificates", "path", bundle)
		} else {
			appLog.Warn("ca bundle unreadable", "path", bundle, "err", err.Error())
		}
	}
	return nil, "default"
}

func proxyFunc(override string) func(*http.Request) (*url.URL, error) {
	cfg := httpproxy.FromEnvironment()
	if override != "" {
		cfg.HTTPProxy = override
		cfg.HTTPSProxy = override
	}
	resolve := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return resolve(req.URL)
	}
}
