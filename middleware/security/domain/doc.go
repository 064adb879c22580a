// Package domain define contratos e tipos de domínio do gateway de segurança.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras de
// admissão/detecção dos detalhes de infraestrutura (Redis, memória, etc).
package domain
