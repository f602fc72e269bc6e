package upstream

import (
	"net/http"
)

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Headers owned by the gateway on the way to the upstream.
var requestOwnedHeaders = []string{
	"Authorization",
	"Host",
	"Content-Length",
	"Accept-Encoding",
	"Cookie",
	"X-Forwarded-For",
}

// CopyHeader copies src into dst, skipping hop-by-hop headers.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func outboundHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src)+2)
	CopyHeader(dst, src)
	for _, h := range requestOwnedHeaders {
		dst.Del(h)
	}
	return dst
}

func isHopHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for _, h := range hopHeaders {
		if canonical == h {
			return true
		}
	}
	return false
}
