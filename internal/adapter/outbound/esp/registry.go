package esp

import (
	"net/http"
	"sort"

	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/port/outbound"
)

// Registry holds the ESP adapters by name.
type Registry struct {
	adapters map[string]outbound.ESPAdapterPort
}

// NewRegistry builds every supported adapter on top of client.
func NewRegistry(cfg config.ESPConfig, client *http.Client, recorder Recorder) *Registry {
	return NewRegistryOf(
		NewSendGrid(cfg.SendGrid, client, recorder),
		NewResend(cfg.Resend, client, recorder),
		NewMailchimp(cfg.Mailchimp, client, recorder),
	)
}

// NewRegistryOf builds a registry from explicit adapters.
func NewRegistryOf(adapters ...outbound.ESPAdapterPort) *Registry {
	r := &Registry{adapters: make(map[string]outbound.ESPAdapterPort, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (outbound.ESPAdapterPort, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// OAuth returns the adapter under name if it authorizes through OAuth.
func (r *Registry) OAuth(name string) (outbound.OAuthESPAdapterPort, bool) {
	a, ok := r.adapters[name].(outbound.OAuthESPAdapterPort)
	return a, ok
}

// Names returns the registered adapter names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
