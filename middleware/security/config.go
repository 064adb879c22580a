package security

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"security-gateway/middleware/security/domain"

	"gopkg.in/yaml.v3"
)

// FileConfig é a configuração em arquivo YAML, pensada para a parte em
// lista que não cabe bem em variável de ambiente: padrões de ameaça,
// domínios confiáveis, thresholds. Valores zero não sobrescrevem os
// padrões; env vars continuam vencendo no binário.
type FileConfig struct {
	Rate struct {
		Requests      int `yaml:"requests"`
		WindowSeconds int `yaml:"window_seconds"`
		Burst         int `yaml:"burst"`
	} `yaml:"rate"`

	Validation struct {
		MaxRequestSize int `yaml:"max_request_size"`
		MaxNestedDepth int `yaml:"max_nested_depth"`
	} `yaml:"validation"`

	Threat struct {
		TrustedReferers []string        `yaml:"trusted_referers"`
		Patterns        []PatternConfig `yaml:"patterns"`
		Thresholds      struct {
			RequestsPerMinute           int `yaml:"requests_per_minute"`
			FailedAuthPerMinute         int `yaml:"failed_auth_per_minute"`
			SuspiciousPatternsPerMinute int `yaml:"suspicious_patterns_per_minute"`
			LargeRequestsPerMinute      int `yaml:"large_requests_per_minute"`
			UnusualUserAgents           int `yaml:"unusual_user_agents"`
		} `yaml:"thresholds"`
	} `yaml:"threat"`

	Lockout struct {
		MaxFailedAttempts      int `yaml:"max_failed_attempts"`
		LockoutDurationSeconds int `yaml:"lockout_duration_seconds"`
		BlockDurationSeconds   int `yaml:"block_duration_seconds"`
	} `yaml:"lockout"`

	Headers struct {
		HSTSMaxAge     int    `yaml:"hsts_max_age"`
		CSP            string `yaml:"csp"`
		ReferrerPolicy string `yaml:"referrer_policy"`
	} `yaml:"headers"`
}

// PatternConfig declara uma assinatura no arquivo. O regex é compilado
// case-insensitive.
type PatternConfig struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Severity    string `yaml:"severity"`
	Description string `yaml:"description"`
	Action      string `yaml:"action"`
}

func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

var validSeverities = map[string]domain.Severity{
	"low":      domain.SeverityLow,
	"medium":   domain.SeverityMedium,
	"high":     domain.SeverityHigh,
	"critical": domain.SeverityCritical,
}

var validActions = map[string]domain.Action{
	"log":   domain.ActionLog,
	"block": domain.ActionBlock,
	"alert": domain.ActionAlert,
}

func (pc PatternConfig) compile() (domain.ThreatPattern, error) {
	sev, ok := validSeverities[pc.Severity]
	if !ok {
		return domain.ThreatPattern{}, fmt.Errorf("pattern %q: severity %q inválida", pc.Name, pc.Severity)
	}
	act, ok := validActions[pc.Action]
	if !ok {
		return domain.ThreatPattern{}, fmt.Errorf("pattern %q: action %q inválida", pc.Name, pc.Action)
	}
	re, err := regexp.Compile("(?i)" + pc.Pattern)
	if err != nil {
		return domain.ThreatPattern{}, fmt.Errorf("pattern %q: %w", pc.Name, err)
	}
	return domain.ThreatPattern{
		Name:        pc.Name,
		Pattern:     re,
		Severity:    sev,
		Description: pc.Description,
		Action:      act,
	}, nil
}

// Apply sobrepõe os campos não-zero do arquivo sobre opts.
func (fc FileConfig) Apply(opts Options) (Options, error) {
	if fc.Rate.Requests > 0 {
		opts.Rate.Requests = fc.Rate.Requests
	}
	if fc.Rate.WindowSeconds > 0 {
		opts.Rate.Window = time.Duration(fc.Rate.WindowSeconds) * time.Second
	}
	if fc.Rate.Burst > 0 {
		opts.Rate.Burst = fc.Rate.Burst
	}

	if fc.Validation.MaxRequestSize > 0 {
		opts.Validation.MaxRequestSize = fc.Validation.MaxRequestSize
	}
	if fc.Validation.MaxNestedDepth > 0 {
		opts.Validation.MaxNestedDepth = fc.Validation.MaxNestedDepth
	}

	if len(fc.Threat.TrustedReferers) > 0 {
		opts.Threat.TrustedReferers = fc.Threat.TrustedReferers
	}
	if len(fc.Threat.Patterns) > 0 {
		patterns := make([]domain.ThreatPattern, 0, len(fc.Threat.Patterns))
		for _, pc := range fc.Threat.Patterns {
			p, err := pc.compile()
			if err != nil {
				return opts, err
			}
			patterns = append(patterns, p)
		}
		opts.Threat.Patterns = patterns
	}
	th := fc.Threat.Thresholds
	if th.RequestsPerMinute > 0 {
		opts.Threat.Thresholds.RequestsPerMinute = th.RequestsPerMinute
	}
	if th.FailedAuthPerMinute > 0 {
		opts.Threat.Thresholds.FailedAuthPerMinute = th.FailedAuthPerMinute
	}
	if th.SuspiciousPatternsPerMinute > 0 {
		opts.Threat.Thresholds.SuspiciousPatternsPerMinute = th.SuspiciousPatternsPerMinute
	}
	if th.LargeRequestsPerMinute > 0 {
		opts.Threat.Thresholds.LargeRequestsPerMinute = th.LargeRequestsPerMinute
	}
	if th.UnusualUserAgents > 0 {
		opts.Threat.Thresholds.UnusualUserAgents = th.UnusualUserAgents
	}

	if fc.Lockout.MaxFailedAttempts > 0 {
		opts.Lockout.MaxFailedAttempts = fc.Lockout.MaxFailedAttempts
	}
	if fc.Lockout.LockoutDurationSeconds > 0 {
		opts.Lockout.LockoutDuration = time.Duration(fc.Lockout.LockoutDurationSeconds) * time.Second
	}
	if fc.Lockout.BlockDurationSeconds > 0 {
		opts.Lockout.BlockDuration = time.Duration(fc.Lockout.BlockDurationSeconds) * time.Second
	}

	if fc.Headers.HSTSMaxAge > 0 {
		opts.Headers.HSTSMaxAge = fc.Headers.HSTSMaxAge
	}
	if fc.Headers.CSP != "" {
		opts.Headers.CSP = fc.Headers.CSP
	}
	if fc.Headers.ReferrerPolicy != "" {
		opts.Headers.ReferrerPolicy = fc.Headers.ReferrerPolicy
	}

	return opts, nil
}
