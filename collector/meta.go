package collector

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/qualabs/cmcd-toolkit/record"
)

func requestMeta(r *http.Request, trustProxy bool, now time.Time) record.RequestMeta {
	return record.RequestMeta{
		UserAgent:  r.UserAgent(),
		Origin:     r.Header.Get("Origin"),
		IP:         clientIP(r, trustProxy),
		ReceivedAt: now,
	}
}

// clientIP prefers the first X-Forwarded-For hop when the collector runs
// behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
