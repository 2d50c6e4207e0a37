package bot

import (
	"context"

	"guildkeeper/internal/config"
)

// CredentialStore yields the bot identities to run. Token storage and
// validation live behind it.
type CredentialStore interface {
	Tenants(ctx context.Context) ([]config.TenantConfig, error)
}

// ConfigCredentials serves tenants from the loaded configuration.
type ConfigCredentials struct {
	cfg config.Config
}

func NewConfigCredentials(cfg config.Config) ConfigCredentials {
	return ConfigCredentials{cfg: cfg}
}

func (c ConfigCredentials) Tenants(ctx context.Context) ([]config.TenantConfig, error) {
	_ = ctx
	seen := make(map[string]struct{})
	var out []config.TenantConfig
	for _, tenant := range c.cfg.TenantList() {
		if _, ok := seen[tenant.Token]; ok {
			continue
		}
		seen[tenant.Token] = struct{}{}
		out = append(out, tenant)
	}
	return out, nil
}
