package security

import "net/http"

// DefaultCSP é a política aplicada quando nenhuma é configurada.
const DefaultCSP = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' 'unsafe-eval'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; " +
	"font-src 'self' https:; " +
	"connect-src 'self' https:; " +
	"frame-ancestors 'none';"

const defaultHSTSMaxAge = 31536000 // 1 ano

// HeaderOptions configura os cabeçalhos de segurança anexados a toda
// resposta que passa pelo gateway.
type HeaderOptions struct {
	// HSTSMaxAge em segundos. <= 0 usa o padrão de 1 ano.
	HSTSMaxAge int
	// CSP vazia usa DefaultCSP.
	CSP string
	// ReferrerPolicy vazia usa strict-origin-when-cross-origin.
	ReferrerPolicy string
}

func applySecurityHeaders(h http.Header, opts HeaderOptions) {
	maxAge := opts.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	csp := opts.CSP
	if csp == "" {
		csp = DefaultCSP
	}
	referrer := opts.ReferrerPolicy
	if referrer == "" {
		referrer = "strict-origin-when-cross-origin"
	}

	h.Set("Strict-Transport-Security", "max-age="+formatInt(maxAge)+"; includeSubDomains")
	h.Set("Content-Security-Policy", csp)
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", referrer)
	h.Set("X-XSS-Protection", "1; mode=block")
}
