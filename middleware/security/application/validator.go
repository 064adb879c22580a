package application

import (
	"encoding/json"
	"regexp"
)

// suspiciousPayloadPatterns é o conjunto fixo de regex, todos
// case-insensitive, aplicado a qualquer payload de escrita.
var suspiciousPayloadPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`), // XSS
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`), // event handlers inline
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)\b(or|and)\s+['"]?\d+['"]?\s*=\s*['"]?\d+`), // tautologia (' OR 1=1)
	regexp.MustCompile(`(?i)exec\s*\(`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)document\.`),
	regexp.MustCompile(`(?i)window\.`),
}

// Validator faz checagens estruturais e de padrão sobre um único payload.
//
// É uma função pura sobre configuração + entrada: sem estado, sem efeitos
// colaterais, seguro para uso concorrente.
type Validator struct {
	// MaxRequestSize em bytes. Payload maior é rejeitado antes de
	// qualquer scan.
	MaxRequestSize int
	// MaxNestedDepth limita a profundidade de objetos/arrays quando o
	// payload parseia como JSON. Payload não parseável pula a checagem.
	MaxNestedDepth int
}

// Validate devolve false para payloads perigosos, com curto-circuito na
// primeira falha: tamanho, depois padrões, depois profundidade.
func (v Validator) Validate(data []byte) bool {
	if v.MaxRequestSize > 0 && len(data) > v.MaxRequestSize {
		return false
	}

	for _, p := range suspiciousPayloadPatterns {
		if p.Match(data) {
			return false
		}
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil && v.MaxNestedDepth > 0 {
		if nestedDepth(parsed) > v.MaxNestedDepth {
			return false
		}
	}

	return true
}

// nestedDepth conta quantos níveis de objeto/array envolvem o valor mais
// profundo. Escalares têm profundidade 0; a profundidade exatamente no
// limite passa.
func nestedDepth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		deepest := 0
		for _, child := range t {
			if d := nestedDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	case []any:
		deepest := 0
		for _, child := range t {
			if d := nestedDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	default:
		return 0
	}
}
