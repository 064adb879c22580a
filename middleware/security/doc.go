// Package security fornece o middleware HTTP (net/http) do gateway de
// segurança de entrada.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admissão, validação, detecção, reputação)
//     sem net/http
//   - infra: implementações concretas (Redis, memória, semáforo)
//   - security (este pacote): middleware HTTP + extração de identidade +
//     tradução das decisões para status/headers/JSON
//
// Fluxo por requisição, em ordem fixa:
//
//  1. Extrai a identidade do cliente (XFF/X-Real-IP/RemoteAddr)
//  2. Reputação: 403 imediato se bloqueado
//  3. Rate limit por janela deslizante: 429 se rejeitado
//  4. Validação do snapshot do corpo: 400 se rejeitado
//  5. Análise de ameaças/anomalias: 403 se rejeitado, com efeitos na
//     reputação (suspeito sempre, bloqueio em achado critical)
//  6. Handler downstream
//  7. Cabeçalhos de segurança na resposta, história atualizada com o
//     status real, estatísticas e log estruturado
//
// Pânico em qualquer estágio vira um 500 genérico sem vazar detalhe
// interno; o detalhe completo vai só para o log.
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como RATE_REQUESTS, RATE_WINDOW, RATE_BURST e
// REDIS_ADDR; um arquivo YAML opcional cobre a configuração em lista
// (padrões, domínios confiáveis, thresholds).
package security
