package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })
	assert.Equal(t, 2, cap(fetcher.limiter))
	assert.Equal(t, 45*time.Second, fetcher.cfg.NavigationTimeout)
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	assert.Equal(t, 45*time.Second, fetcher.navTimeout())
	fetcher.cfg.NavigationTimeout = time.Second
	assert.Equal(t, time.Second, fetcher.navTimeout())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fetcher.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))

	unlimited := &Fetcher{}
	require.NoError(t, unlimited.acquire(ctx))
	unlimited.release()
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-Empty": {}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	assert.Len(t, src["X-Test"], 2)
	assert.Nil(t, cloneHeader(nil))

	netHeaders := toNetworkHeaders(src)
	assert.Equal(t, []string{"a", "b"}, netHeaders["X-Test"])
	assert.Equal(t, "1", netHeaders["X-One"])
	assert.NotContains(t, netHeaders, "X-Empty")
}

func TestIsAsset(t *testing.T) {
	t.Parallel()

	for _, kind := range []network.ResourceType{
		network.ResourceTypeImage,
		network.ResourceTypeStylesheet,
		network.ResourceTypeFont,
		network.ResourceTypeMedia,
	} {
		assert.True(t, isAsset(kind), kind)
	}
	assert.False(t, isAsset(network.ResourceTypeDocument))
	assert.False(t, isAsset(network.ResourceTypeScript))
	assert.False(t, isAsset(network.ResourceTypeXHR))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 500,
			URL:    "https://example.com/cover.jpg",
		},
	})
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/frame"},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	assert.Equal(t, "https://example.com/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	assert.Equal(t, "https://req", url)
}

func TestAllocatorOptionsAddProxy(t *testing.T) {
	t.Parallel()

	plain := allocatorOptions(Config{})
	proxied := allocatorOptions(Config{Proxy: "http://proxy.local:3128"})
	assert.Len(t, proxied, len(plain)+1)
}
