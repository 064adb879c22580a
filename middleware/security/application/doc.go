// Package application contém os casos de uso do gateway de segurança:
// admissão por janela deslizante, validação de payload, análise de ameaças
// e a máquina de estados de reputação.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: RateService.Decide(ctx, key) retorna uma RateDecision
// (allow/deny + remaining + retry-after).
package application
