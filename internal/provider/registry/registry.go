// File: internal/provider/registry/registry.go
package registry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"

	"objstore/internal/config"
	"objstore/pkg/storage"
)

// Reports whether cfg carries enough settings to initialize the provider
type ProviderConfigCheck func(cfg *config.Config) bool

// Opens the provider's object store described by cfg
type ProviderInitializer func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error)

// Recognizes URLs addressed to the provider. On a match it points cfg at the
// store the URL names and returns the object path below that store.
type URLParser func(u *url.URL, cfg *config.Config) (storage.Path, bool, error)

type ProviderRegistration struct {
	ConfigCheck ProviderConfigCheck
	Initializer ProviderInitializer
	// Optional; providers without one cannot be addressed by URL
	ParseURL URLParser
	// URL parsers of higher priority are tried first
	Priority int
}

func (r ProviderRegistration) validate(name string) error {
	switch {
	case r.ConfigCheck == nil:
		return fmt.Errorf("provider %s registration missing ConfigCheck", name)
	case r.Initializer == nil:
		return fmt.Errorf("provider %s registration missing Initializer", name)
	}
	return nil
}

// Registrations keyed by lowercase provider name. Written only from init()
// functions, read afterwards.
var (
	registryMu sync.RWMutex
	providers  = map[string]ProviderRegistration{}
)

// Called from a provider package's init(). Panics on a duplicate name or an
// incomplete registration, both of which are programming errors.
func RegisterProvider(name string, registration ProviderRegistration) {
	name = strings.ToLower(name)

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, taken := providers[name]; taken {
		panic(fmt.Sprintf("provider %s already registered", name))
	}
	if err := registration.validate(name); err != nil {
		panic(err.Error())
	}
	providers[name] = registration
}

// Returns the registered provider names in sorted order
func GetSupportedProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(providers))
}

func IsSupported(providerName string) bool {
	_, ok := GetRegistration(providerName)
	return ok
}

func GetRegistration(providerName string) (ProviderRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := providers[strings.ToLower(providerName)]
	return reg, ok
}

// Returns a snapshot of every registration
func GetAllRegistrations() map[string]ProviderRegistration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return maps.Clone(providers)
}

type NamedParser struct {
	Name  string
	Parse URLParser
}

// Returns the URL parsers ordered by descending priority, then by name
func URLParsers() []NamedParser {
	registrations := GetAllRegistrations()

	names := make([]string, 0, len(registrations))
	for name, reg := range registrations {
		if reg.ParseURL != nil {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(registrations[b].Priority, registrations[a].Priority),
			strings.Compare(a, b),
		)
	})

	parsers := make([]NamedParser, len(names))
	for i, name := range names {
		parsers[i] = NamedParser{Name: name, Parse: registrations[name].ParseURL}
	}
	return parsers
}
