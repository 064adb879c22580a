// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - RedisStore: janela deslizante (ZSET), história (LIST) e reputação
//     (chaves JSON com TTL) sobre github.com/redis/go-redis/v9
//   - MemoryStore: mesmos contratos em memória, para testes e dev
//   - ChanPool: semáforo simples para limite de concorrência
package infra
