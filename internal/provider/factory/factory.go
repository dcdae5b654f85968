package factory

import (
	"net/http"

	"github.com/loykin/statusr/internal/provider"
	"github.com/loykin/statusr/internal/provider/statuspage"
)

// Options is shared by every adapter built here.
type Options struct {
	Client    *http.Client
	UserAgent string
}

// New builds the adapter for a configured provider name.
// Supported names:
//   - "statuspage" (Atlassian Statuspage summary API and webhooks)
//   - "atlassian" (alias of statuspage)
func New(name string, opts Options) (provider.Adapter, error) {
	kind, err := provider.ParseKind(name)
	if err != nil {
		return nil, err
	}
	return NewKind(kind, opts)
}

// NewKind builds the adapter for kind.
func NewKind(kind provider.Kind, opts Options) (provider.Adapter, error) {
	switch kind {
	case provider.KindStatuspage:
		return statuspage.New(statuspage.Options{Client: opts.Client, UserAgent: opts.UserAgent}), nil
	default:
		return nil, provider.ErrUnknownProvider
	}
}

// NewAll returns one adapter per supported provider, keyed by kind. Polling
// and webhook intake share these instances so a webhook can resolve the
// source ids learned while polling.
func NewAll(opts Options) map[provider.Kind]provider.Adapter {
	out := make(map[provider.Kind]provider.Adapter, len(provider.Kinds))
	for _, k := range provider.Kinds {
		a, err := NewKind(k, opts)
		if err != nil {
			continue
		}
		out[k] = a
	}
	return out
}
