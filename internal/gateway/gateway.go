package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/cryptomart/payments-api/internal/token"
)

// PluginID identifies the off-site redirect integration in gateway storage.
const PluginID = "cryptocloud_offsite_redirect"

// ErrNotFound is returned when no gateway is configured for a plugin id.
var ErrNotFound = errors.New("gateway: not found")

// Config holds merchant-entered gateway credentials. SecretKey may be empty:
// that disables callback verification entirely and is an explicit, deliberate
// low-security configuration choice, never a silent default.
type Config struct {
	PluginID  string
	APIKey    string
	ShopID    string
	SecretKey string
	Mode      token.Mode
}

// VerificationEnabled reports whether inbound callbacks must carry a valid token.
func (c Config) VerificationEnabled() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// Resolver looks up the active gateway configuration for an integration.
// Callers receive one explicitly; there is no process-global registry.
type Resolver interface {
	FindByPluginID(ctx context.Context, pluginID string) (Config, error)
}

// Static resolves a single gateway configuration supplied at construction
// time, typically from the environment.
type Static struct {
	Config Config
}

// FindByPluginID returns the static configuration when the plugin id matches.
func (s Static) FindByPluginID(_ context.Context, pluginID string) (Config, error) {
	if s.Config.PluginID == "" || s.Config.PluginID != pluginID {
		return Config{}, ErrNotFound
	}
	return s.Config, nil
}
