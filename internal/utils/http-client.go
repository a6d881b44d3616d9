package utils

import (
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

type Client struct {
	client *http.Client
	config HTTPClientConfig
}

// NewClient builds a pooled client. No overall request timeout is set because chunk
// bodies can take arbitrarily long; fetchers apply their own inactivity timeout.
func NewClient(cfg HTTPClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := cleanhttp.DefaultPooledTransport()
	transport.IdleConnTimeout = cfg.KATimeout
	transport.ResponseHeaderTimeout = cfg.Timeout
	transport.DisableCompression = true
	transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	if cfg.HighThreadMode {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control: func(network, address string, c syscall.RawConn) error {
				return c.Control(func(fd uintptr) {
					setSocketOptions(fd)
				})
			},
		}).DialContext
	}
	return &Client{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

// WithMaxConns returns a client sharing c's settings but with its own transport.
func (c *Client) WithMaxConns(n int) *Client {
	cfg := c.config
	cfg.MaxConnsPerHost = n
	return NewClient(cfg)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
