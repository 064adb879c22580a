package domain

import "errors"

// ErrStoreUnavailable marca falhas de infraestrutura no store compartilhado.
//
// Nenhum componente propaga essa falha ao chamador: o rate limit falha
// aberto, a detecção de anomalias pula o estágio e a reputação responde
// "não bloqueado". Disponibilidade vence rigor aqui.
var ErrStoreUnavailable = errors.New("store unavailable")
