package models

import "time"

// Labels is the labels document produced while building the dataset. It maps
// variable names to display labels and coded values to value labels.
type Labels struct {
	Variables map[string]string         `json:"variables"`
	Values    map[string]map[int]string `json:"values"`
}

// NewLabels returns an empty labels document.
func NewLabels() Labels {
	return Labels{
		Variables: map[string]string{},
		Values:    map[string]map[int]string{},
	}
}

// ValueLabel resolves a coded value of variable to its label.
func (l Labels) ValueLabel(variable string, code int) (string, bool) {
	m, ok := l.Values[variable]
	if !ok {
		return "", false
	}
	label, ok := m[code]
	return label, ok
}

// Credentials is a handle/secret pair for a publish gateway.
type Credentials struct {
	Handle string
	Secret string
}

// Complete reports whether both parts of the pair are set.
func (c Credentials) Complete() bool {
	return c.Handle != "" && c.Secret != ""
}

// PostReceipt is an audit row for a published profile.
type PostReceipt struct {
	RespondentID string    `json:"respondent_id"`
	URI          string    `json:"uri"`
	Text         string    `json:"text"`
	Channel      string    `json:"channel"`
	PostedAt     time.Time `json:"posted_at"`
}
