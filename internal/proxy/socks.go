// Package proxy builds the HTTP client used for cloud requests.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const requestTimeout = 120 * time.Second

// NewHTTPClient returns a client that dials through the SOCKS5 proxy at
// socksAddr ("host:port" or "socks5://host:port"). An empty address gives a
// direct client.
func NewHTTPClient(socksAddr string) (*http.Client, error) {
	socksAddr = strings.TrimPrefix(strings.TrimSpace(socksAddr), "socks5://")
	if socksAddr == "" {
		return &http.Client{Timeout: requestTimeout}, nil
	}

	if _, _, err := net.SplitHostPort(socksAddr); err != nil {
		return nil, fmt.Errorf("proxy address %q: %w", socksAddr, err)
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		dial = cd.DialContext
	}

	transport := &http.Transport{
		DialContext: dial,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}, nil
}
