package gateway

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptomart/payments-api/internal/token"
)

// Store resolves gateway configuration from the payment_gateways table.
type Store struct {
	Pool *pgxpool.Pool
}

// FindByPluginID loads the active gateway row for the plugin id.
func (s Store) FindByPluginID(ctx context.Context, pluginID string) (Config, error) {
	if s.Pool == nil {
		return Config{}, errors.New("gateway: store not configured")
	}
	const q = `
SELECT plugin_id, api_key, shop_id, COALESCE(secret_key, ''), verify_mode
FROM payment_gateways
WHERE plugin_id = $1 AND enabled
LIMIT 1`
	var cfg Config
	var mode string
	err := s.Pool.QueryRow(ctx, q, pluginID).Scan(&cfg.PluginID, &cfg.APIKey, &cfg.ShopID, &cfg.SecretKey, &mode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, err
	}
	parsed, err := token.ParseMode(mode)
	if err != nil {
		return Config{}, err
	}
	cfg.Mode = parsed
	return cfg, nil
}
