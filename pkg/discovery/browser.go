package discovery

import (
	"context"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for daemons. The channel is closed when the context is
	// cancelled.
	Browse(ctx context.Context) (<-chan *DaemonService, error)

	// Find returns the first daemon accepted by filter (nil accepts any).
	// Returns when found or when the context is cancelled or the browse
	// timeout expires.
	Find(ctx context.Context, filter FilterFunc) (*DaemonService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*DaemonService) bool

// FilterByInstance matches a daemon by instance name.
func FilterByInstance(name string) FilterFunc {
	return func(svc *DaemonService) bool {
		return svc.InstanceName == name
	}
}

// FilterByCodec matches daemons speaking codec.
func FilterByCodec(codec string) FilterFunc {
	return func(svc *DaemonService) bool {
		return svc.Codec == codec
	}
}

// FilterBrowseResults filters a channel of daemon services.
func FilterBrowseResults(in <-chan *DaemonService, filter FilterFunc) <-chan *DaemonService {
	out := make(chan *DaemonService)
	go func() {
		defer close(out)
		for svc := range in {
			if filter(svc) {
				out <- svc
			}
		}
	}()
	return out
}
