package strategy

import "wpdock/internal/domain"

// Options carries host-wide settings every rendered runtime needs.
type Options struct {
	WordPressImage string
	CLIImage       string
	DBHost         string
	// BindAddress limits the published port, e.g. 127.0.0.1 behind a proxy.
	BindAddress string
}

// Platform renders the compose definition for one site.
type Platform interface {
	Name() string
	Compose(site domain.Site, opts Options) ([]byte, error)
}
