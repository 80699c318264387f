package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Direct(t *testing.T) {
	c, err := NewHTTPClient("  ")
	require.NoError(t, err)
	assert.Nil(t, c.Transport)
	assert.Equal(t, requestTimeout, c.Timeout)
}

func TestNewHTTPClient_Socks(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:8888", "socks5://127.0.0.1:8888"} {
		c, err := NewHTTPClient(addr)
		require.NoError(t, err, addr)
		tr, ok := c.Transport.(*http.Transport)
		require.True(t, ok)
		assert.NotNil(t, tr.DialContext)
	}
}

func TestNewHTTPClient_BadAddress(t *testing.T) {
	_, err := NewHTTPClient("localhost")
	assert.Error(t, err)
}
