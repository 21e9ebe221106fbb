package domain

import "time"

// defaultDaysToResolution se usa cuando Gamma no informa fecha de resolución.
const defaultDaysToResolution = 30.0

// Market representa un mercado de predicción binario en Polymarket.
type Market struct {
	ConditionID  string
	QuestionID   string
	Question     string    // enriquecido desde Gamma
	Slug         string    // enriquecido desde Gamma
	EndDate      time.Time // fecha de resolución, enriquecido desde Gamma
	Volume24h    float64   // volumen últimas 24h en USDC, enriquecido desde Gamma
	MinOrderSize float64   // shares
	NegRisk      bool
	Tokens       [2]Token
	Active       bool
	Closed       bool
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string  // "Yes" | "No"
	Price   float64 // último precio mid del CLOB
}

// ID es la clave del mercado en el engine: quotes, inventario y señales
// se indexan por el condition ID.
func (m Market) ID() string {
	return m.ConditionID
}

// HoursToResolution devuelve las horas hasta que el mercado se resuelve.
// Devuelve 0 si EndDate no está definido.
func (m Market) HoursToResolution() float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	h := time.Until(m.EndDate).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// DaysToResolution devuelve los días hasta resolución, 30 si se desconoce.
func (m Market) DaysToResolution() float64 {
	if m.EndDate.IsZero() {
		return defaultDaysToResolution
	}
	return m.HoursToResolution() / 24
}

// YesToken devuelve el token YES del mercado.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "No" {
			return t
		}
	}
	return m.Tokens[1]
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}

// ShortID acorta un identificador hex para logs.
func ShortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
