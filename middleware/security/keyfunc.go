package security

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc extrai a identidade do cliente de uma requisição.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc monta a extração padrão de identidade.
//
// Ordem: header explícito (se configurado), primeiro IP do
// X-Forwarded-For e X-Real-IP (apenas se os headers de proxy são
// confiáveis), e por fim o host do RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustProxyHeaders bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustProxyHeaders {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
			if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
				return realIP
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
