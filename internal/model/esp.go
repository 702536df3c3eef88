package model

// ESPInfo describes one registered email service provider.
type ESPInfo struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	OAuth      bool   `json:"oauth"`
}

// CreateTemplateRequest is the body of POST /api/v1/esp/:name/templates.
type CreateTemplateRequest struct {
	Name    string `json:"name" binding:"required,max=255"`
	HTML    string `json:"html" binding:"required"`
	Subject string `json:"subject" binding:"max=998"`
}

// ESPListResponse is the body of GET /api/v1/esp.
type ESPListResponse struct {
	Providers []ESPInfo `json:"providers"`
}

// ConnectResponse carries the URL that starts an ESP OAuth flow.
type ConnectResponse struct {
	URL string `json:"url"`
}
