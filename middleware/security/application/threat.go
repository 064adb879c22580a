package application

import (
	"context"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"security-gateway/middleware/security/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	maxURLLength   = 2048
	maxQueryLength = 1000
	maxBodyBytes   = 10 * 1024 * 1024
	largeRequest   = 1024 * 1024

	anomalyWindow = time.Minute
)

// dangerousFilename detecta extensões perigosas em nomes de arquivo dentro
// de corpos multipart (campo filename= dos cabeçalhos de parte).
var dangerousFilename = regexp.MustCompile(`(?i)filename="?[^"\r\n]*\.(php|jsp|asp|aspx|exe|bat|cmd|sh|bash)"?`)

// ThreatService roda a análise de ameaças: headers, URL, corpo e
// anomalias sobre a história do cliente, nessa ordem, parando no primeiro
// estágio que produz achados.
type ThreatService struct {
	// Patterns é a biblioteca imutável de assinaturas, compartilhada
	// pelos estágios de URL e corpo.
	Patterns   []domain.ThreatPattern
	Thresholds domain.AnomalyThresholds

	History      domain.HistoryStore
	HistoryLimit int           // padrão 1000
	HistoryTTL   time.Duration // padrão 1h

	// TrustedReferers são domínios (e subdomínios) aceitos no Referer
	// além do host da própria requisição.
	TrustedReferers []string

	// Alerts amortece o log de achados com action=alert: uma rajada de
	// scan não pode inundar o log. nil desliga o amortecimento.
	Alerts *rate.Limiter

	Log zerolog.Logger
}

// Analyze avalia o profile e devolve o resultado agregado. A mensagem
// aponta o estágio que disparou sem ecoar o padrão casado.
func (s *ThreatService) Analyze(ctx context.Context, p domain.RequestProfile, client domain.Key) domain.Analysis {
	if fs := s.analyzeHeaders(p); len(fs) > 0 {
		return s.unsafe("cabeçalhos suspeitos", fs, client)
	}
	if fs := s.analyzeURL(p); len(fs) > 0 {
		return s.unsafe("URL suspeita", fs, client)
	}
	if fs := s.analyzeBody(p); len(fs) > 0 {
		return s.unsafe("corpo de requisição suspeito", fs, client)
	}
	if f := s.detectAnomaly(ctx, client); f != nil {
		return s.unsafe("anomalia detectada", []domain.Finding{*f}, client)
	}
	return domain.Analysis{Safe: true, Message: "OK"}
}

func (s *ThreatService) unsafe(msg string, findings []domain.Finding, client domain.Key) domain.Analysis {
	for _, f := range findings {
		if f.Action != domain.ActionAlert {
			continue
		}
		if s.Alerts == nil || s.Alerts.Allow() {
			s.Log.Warn().
				Str("client", string(client)).
				Str("type", f.Type).
				Str("severity", string(f.Severity)).
				Msg("alerta de segurança")
		}
	}
	return domain.Analysis{Safe: false, Message: msg, Findings: findings}
}

var placeholderUserAgents = map[string]struct{}{
	"":          {},
	"null":      {},
	"undefined": {},
}

func (s *ThreatService) analyzeHeaders(p domain.RequestProfile) []domain.Finding {
	var findings []domain.Finding

	if _, bad := placeholderUserAgents[strings.ToLower(strings.TrimSpace(p.UserAgent))]; bad {
		findings = append(findings, domain.Finding{
			Type:        "suspicious_user_agent",
			Severity:    domain.SeverityMedium,
			Description: "User-Agent ausente ou placeholder",
			Action:      domain.ActionLog,
		})
	}

	if p.Referer != "" && !s.validReferer(p.Referer, p.Host) {
		findings = append(findings, domain.Finding{
			Type:        "suspicious_referer",
			Severity:    domain.SeverityMedium,
			Description: "Referer fora do domínio atual e da lista confiável",
			Action:      domain.ActionLog,
		})
	}

	if p.Write() && p.ContentType == "" {
		findings = append(findings, domain.Finding{
			Type:        "missing_content_type",
			Severity:    domain.SeverityLow,
			Description: "método de escrita sem Content-Type",
			Action:      domain.ActionLog,
		})
	}

	return findings
}

func (s *ThreatService) analyzeURL(p domain.RequestProfile) []domain.Finding {
	var findings []domain.Finding

	for _, pat := range s.Patterns {
		if pat.Pattern.MatchString(p.URL) {
			findings = append(findings, domain.Finding{
				Type:        pat.Name,
				Severity:    pat.Severity,
				Description: pat.Description,
				Action:      pat.Action,
			})
		}
	}

	if len(p.URL) > maxURLLength {
		findings = append(findings, domain.Finding{
			Type:        "long_url",
			Severity:    domain.SeverityMedium,
			Description: "URL acima de " + strconv.Itoa(maxURLLength) + " caracteres",
			Action:      domain.ActionLog,
		})
	}

	if len(p.Query) > maxQueryLength {
		findings = append(findings, domain.Finding{
			Type:        "long_query_params",
			Severity:    domain.SeverityLow,
			Description: "query string acima de " + strconv.Itoa(maxQueryLength) + " caracteres",
			Action:      domain.ActionLog,
		})
	}

	return findings
}

func (s *ThreatService) analyzeBody(p domain.RequestProfile) []domain.Finding {
	if !p.Write() || len(p.Body) == 0 {
		return nil
	}

	var findings []domain.Finding

	for _, pat := range s.Patterns {
		if pat.Pattern.Match(p.Body) {
			findings = append(findings, domain.Finding{
				Type:        pat.Name,
				Severity:    pat.Severity,
				Description: pat.Description,
				Action:      pat.Action,
			})
		}
	}

	if len(p.Body) > maxBodyBytes {
		findings = append(findings, domain.Finding{
			Type:        "large_request_body",
			Severity:    domain.SeverityMedium,
			Description: "corpo acima de 10MB",
			Action:      domain.ActionLog,
		})
	}

	if p.Multipart && dangerousFilename.Match(p.Body) {
		findings = append(findings, domain.Finding{
			Type:        "dangerous_file_upload",
			Severity:    domain.SeverityCritical,
			Description: "upload multipart com extensão perigosa",
			Action:      domain.ActionBlock,
		})
	}

	return findings
}

// detectAnomaly compara a história do último minuto contra os thresholds.
// Qualquer limite excedido é um achado high, independente de padrões.
// Store indisponível = sem dados de anomalia, não é rejeição.
func (s *ThreatService) detectAnomaly(ctx context.Context, client domain.Key) *domain.Finding {
	if s.History == nil {
		return nil
	}

	recs, err := s.History.Recent(ctx, HistoryKey(client), time.Now().Add(-anomalyWindow))
	if err != nil {
		s.Log.Debug().Err(err).Str("client", string(client)).Msg("história indisponível, pulando detecção de anomalias")
		return nil
	}

	var failedAuth, suspicious, large int
	for _, rec := range recs {
		if rec.StatusCode == 401 {
			failedAuth++
		}
		if rec.Suspicious {
			suspicious++
		}
		if rec.Size > largeRequest {
			large++
		}
	}

	switch {
	case len(recs) > s.Thresholds.RequestsPerMinute:
		return &domain.Finding{
			Type:        "high_request_rate",
			Severity:    domain.SeverityHigh,
			Description: "volume de requisições acima do limite por minuto",
			Action:      domain.ActionAlert,
		}
	case failedAuth > s.Thresholds.FailedAuthPerMinute:
		return &domain.Finding{
			Type:        "brute_force_attempt",
			Severity:    domain.SeverityHigh,
			Description: "muitas autenticações falhas por minuto",
			Action:      domain.ActionAlert,
		}
	case suspicious > s.Thresholds.SuspiciousPatternsPerMinute:
		return &domain.Finding{
			Type:        "suspicious_patterns",
			Severity:    domain.SeverityHigh,
			Description: "muitas requisições marcadas suspeitas por minuto",
			Action:      domain.ActionAlert,
		}
	case large > s.Thresholds.LargeRequestsPerMinute:
		return &domain.Finding{
			Type:        "large_requests",
			Severity:    domain.SeverityHigh,
			Description: "muitas requisições grandes por minuto",
			Action:      domain.ActionAlert,
		}
	}
	return nil
}

// RecordRequest adiciona um registro à história FIFO do cliente.
// Erro aqui é best-effort: a história é um contador aproximado.
func (s *ThreatService) RecordRequest(ctx context.Context, client domain.Key, rec domain.RequestRecord) {
	if s.History == nil {
		return
	}

	limit := s.HistoryLimit
	if limit <= 0 {
		limit = 1000
	}
	ttl := s.HistoryTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	if err := s.History.Append(ctx, HistoryKey(client), rec, limit, ttl); err != nil {
		s.Log.Debug().Err(err).Str("client", string(client)).Msg("falha ao gravar história de requisições")
	}
}

// HistoryKey devolve a chave de história no esquema chave-por-assunto.
func HistoryKey(client domain.Key) domain.Key {
	return domain.Key("requests:" + string(client))
}

func (s *ThreatService) validReferer(referer, host string) bool {
	rd := strings.ToLower(domainOf(referer))
	if rd == "" {
		return false
	}
	if rd == strings.ToLower(domainOf(host)) {
		return true
	}
	for _, trusted := range s.TrustedReferers {
		t := strings.ToLower(strings.TrimSpace(trusted))
		if t == "" {
			continue
		}
		if rd == t || strings.HasSuffix(rd, "."+t) {
			return true
		}
	}
	return false
}

// domainOf extrai o hostname de uma URL ou host:porta, sem exigir URL
// bem-formada (Referer vem do cliente e mente).
func domainOf(raw string) string {
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return s
}
