package domain

import (
	"context"
	"regexp"
	"time"
)

// Severity classifica o peso de um achado.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action indica o que fazer quando o padrão casa.
type Action string

const (
	ActionLog   Action = "log"
	ActionBlock Action = "block"
	ActionAlert Action = "alert"
)

// ThreatPattern é uma assinatura nomeada da biblioteca de padrões.
//
// A biblioteca é configuração imutável de processo: a mesma lista ordenada
// é avaliada sobre URL e corpo, sem duplicar lógica por estágio.
type ThreatPattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Severity    Severity
	Description string
	Action      Action
}

// Finding é um achado produzido por um estágio de análise.
type Finding struct {
	Type        string
	Severity    Severity
	Description string
	Action      Action
}

// Analysis é o resultado agregado da análise de uma requisição.
type Analysis struct {
	Safe     bool
	Message  string
	Findings []Finding
}

// HasCritical informa se algum achado exige bloqueio imediato do cliente.
func (a Analysis) HasCritical() bool {
	for _, f := range a.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AnomalyThresholds são os limites estáticos comparados contra a história
// de requisições do cliente no último minuto.
type AnomalyThresholds struct {
	RequestsPerMinute           int
	FailedAuthPerMinute         int
	SuspiciousPatternsPerMinute int
	LargeRequestsPerMinute      int
	UnusualUserAgents           int
}

// DefaultAnomalyThresholds devolve os limites padrão.
func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{
		RequestsPerMinute:           100,
		FailedAuthPerMinute:         5,
		SuspiciousPatternsPerMinute: 10,
		LargeRequestsPerMinute:      5,
		UnusualUserAgents:           3,
	}
}

// RequestRecord é uma entrada da história por cliente.
//
// A história é uma fila FIFO limitada: ao estourar a capacidade as entradas
// mais antigas caem silenciosamente, independente do TTL.
type RequestRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Size       int64     `json:"size"`
	Suspicious bool      `json:"suspicious"`
	UserAgent  string    `json:"user_agent"`
}

// HistoryStore persiste a história de requisições por cliente.
type HistoryStore interface {
	// Append adiciona um registro no fim da fila, limitada a maxLen
	// entradas, renovando o TTL da chave.
	Append(ctx context.Context, key Key, rec RequestRecord, maxLen int, ttl time.Duration) error

	// Recent devolve os registros com Timestamp posterior a `since`.
	Recent(ctx context.Context, key Key, since time.Time) ([]RequestRecord, error)
}

// DefaultThreatPatterns devolve a biblioteca de assinaturas padrão.
//
// A ordem importa: a lista é avaliada na sequência e os achados preservam
// essa ordem.
func DefaultThreatPatterns() []ThreatPattern {
	return []ThreatPattern{
		{
			Name:        "sql_injection",
			Pattern:     regexp.MustCompile(`(?i)\b(union|select|insert|update|delete|drop|create|alter|exec|execute)\b`),
			Severity:    SeverityHigh,
			Description: "tentativa de injeção SQL",
			Action:      ActionBlock,
		},
		{
			Name:        "xss_attack",
			Pattern:     regexp.MustCompile(`(?i)(<script|javascript:|vbscript:|on\w+\s*=)`),
			Severity:    SeverityHigh,
			Description: "tentativa de XSS",
			Action:      ActionBlock,
		},
		{
			Name:        "path_traversal",
			Pattern:     regexp.MustCompile(`(?i)(\.\./|\.\.\\|%2e%2e%2f|%2e%2e%5c)`),
			Severity:    SeverityMedium,
			Description: "tentativa de escape de diretório",
			Action:      ActionLog,
		},
		{
			Name:        "command_injection",
			Pattern:     regexp.MustCompile(`(?i)\b(cmd|command|exec|system|eval|os\.|subprocess)\b`),
			Severity:    SeverityCritical,
			Description: "tentativa de execução de comando",
			Action:      ActionBlock,
		},
		{
			Name:        "file_upload_attack",
			Pattern:     regexp.MustCompile(`(?i)\.(php|jsp|asp|aspx|exe|bat|cmd|sh|bash)$`),
			Severity:    SeverityHigh,
			Description: "tentativa de upload de arquivo perigoso",
			Action:      ActionBlock,
		},
		{
			Name:        "brute_force",
			Pattern:     regexp.MustCompile(`(?i)(login|auth|signin)`),
			Severity:    SeverityMedium,
			Description: "atividade de autenticação suspeita",
			Action:      ActionAlert,
		},
	}
}
