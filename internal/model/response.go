package model

// ErrorResponse defines error response structure.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AckResponse is the body returned for an accepted webhook delivery.
type AckResponse struct {
	Received bool `json:"received"`
}
