package strategy

import (
	"strings"

	"wpdock/internal/domain"
)

// GetPlatform resolves a platform name. An empty name means WordPress;
// other names are reserved.
func GetPlatform(name string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", domain.PlatformWordPress:
		return &WordPress{}, nil
	default:
		return nil, domain.Validationf("platform %q is not supported", name)
	}
}
