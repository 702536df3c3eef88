package provider

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

// Registry manages the provider adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]outbound.ProviderAdapterPort
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...outbound.ProviderAdapterPort) *Registry {
	r := &Registry{adapters: make(map[string]outbound.ProviderAdapterPort)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register registers an adapter under its name.
func (r *Registry) Register(adapter outbound.ProviderAdapterPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (outbound.ProviderAdapterPort, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return adapter, nil
}

// Detect guesses the provider of a delivery sent to the generic notify endpoint.
func (r *Registry) Detect(headers http.Header, raw []byte) (outbound.ProviderAdapterPort, error) {
	switch {
	case headers.Get("Stripe-Signature") != "":
		return r.Get(model.ProviderStripe)
	case headers.Get("Paddle-Signature") != "":
		return r.Get(model.ProviderPaddle)
	case headers.Get("creem-signature") != "":
		return r.Get(model.ProviderCreem)
	}

	body := bytes.TrimSpace(raw)
	if bytes.HasPrefix(body, []byte("<")) {
		return r.Get(model.ProviderWechat)
	}
	if values, err := url.ParseQuery(string(body)); err == nil {
		if values.Get("trade_status") != "" || values.Get("notify_id") != "" {
			return r.Get(model.ProviderAlipay)
		}
	}
	return nil, fmt.Errorf("%w: cannot detect provider", ErrUnknownProvider)
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile-time interface assertions
var _ outbound.ProviderRegistryPort = (*Registry)(nil)
