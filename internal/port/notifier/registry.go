package notifier

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"sync"
)

// Factory builds a provider's Notifier for a validated webhook URL.
type Factory func(webhookURL string) Notifier

var (
	mu        sync.RWMutex
	providers = make(map[string]Factory)
)

// Register adds a webhook provider. Adapters call it from init; registering
// the same name twice panics.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := providers[name]; exists {
		panic(fmt.Sprintf("notifier: provider %q registered twice", name))
	}
	providers[name] = factory
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(providers))
}

// Build creates one Notifier per provider that has a webhook in webhooks,
// ordered by provider name. Empty URLs are skipped. An unknown provider or a
// malformed URL fails the whole build so a configuration typo surfaces at
// startup instead of as silently missing alerts.
func Build(webhooks map[string]string) ([]Notifier, error) {
	mu.RLock()
	defer mu.RUnlock()

	var (
		out  []Notifier
		errs []error
	)
	for _, name := range slices.Sorted(maps.Keys(webhooks)) {
		raw := webhooks[name]
		if raw == "" {
			continue
		}
		factory, ok := providers[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown provider %q", name))
			continue
		}
		if err := checkWebhook(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, factory(raw))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	return out, nil
}

// checkWebhook rejects URLs a provider could never post to. The URL itself
// is a secret and stays out of the error.
func checkWebhook(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("webhook url does not parse")
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return errors.New("webhook url needs an http(s) scheme and a host")
	}
	return nil
}
