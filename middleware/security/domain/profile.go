package domain

// RequestProfile é a visão da requisição que os analisadores enxergam.
//
// Ele é propositalmente "agnóstico de HTTP": o adapter monta o profile a
// partir de *http.Request e a camada application só trabalha com strings e
// bytes.
type RequestProfile struct {
	Method      string
	URL         string // path + query, como recebido
	Host        string
	Query       string
	UserAgent   string
	Referer     string
	ContentType string
	Body        []byte
	Multipart   bool
}

// Write informa se o método carrega corpo relevante para análise.
func (p RequestProfile) Write() bool {
	switch p.Method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
