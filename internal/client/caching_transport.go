package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingHTTPClient returns an HTTP client that honours Cache-Control on GET responses.
// Dataset downloads are immutable, so repeat downloads are served locally. With an empty
// cacheDir the cache lives in memory for the life of the client.
func NewCachingHTTPClient(cacheDir string) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		cache = diskcache.New(cacheDir)
	}

	return &http.Client{
		Transport: httpcache.NewTransport(cache),
	}
}

// fromCache reports whether resp was served from the local cache.
func fromCache(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
