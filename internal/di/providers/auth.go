package providers

import (
	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/auth"
	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

// AuthKey wraps the authentication key bytes.
type AuthKey []byte

// ProvideAuthKey loads or generates the authentication key.
func ProvideAuthKey(i do.Injector) (AuthKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	key, err := auth.LoadOrGenerateKey(cfg.Store.DataPath)
	if err != nil {
		return nil, err
	}

	// Update config with the loaded key
	cfg.Auth.AccessTokenKey = key

	log.Info("Authentication key loaded",
		"access_token_duration", cfg.Auth.AccessTokenDuration,
	)

	return AuthKey(key), nil
}

// ProvideTokenService provides the PASETO token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	authKey := do.MustInvoke[AuthKey](i)

	return auth.NewTokenService([]byte(authKey), cfg.Auth.AccessTokenDuration)
}

// AccountStoreHandle wraps the account database with shutdown capability.
type AccountStoreHandle struct {
	*auth.AccountStore
}

// Shutdown implements do.Shutdownable.
func (h *AccountStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideAccountStore provides the account database.
func ProvideAccountStore(i do.Injector) (*AccountStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	accounts, err := auth.OpenAccountStore(cfg.AccountsPath(), log.WithComponent("accounts"))
	if err != nil {
		return nil, err
	}

	log.Info("Account database initialized", "path", cfg.AccountsPath())

	return &AccountStoreHandle{AccountStore: accounts}, nil
}

// ProvideOutbox provides the mailer. The emulator never sends real mail; the
// outbox logs every message so links can be copied from the log.
func ProvideOutbox(i do.Injector) (*auth.Outbox, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return auth.NewOutbox(log.WithComponent("mail")), nil
}

// ProvideAuthService provides the identity provider.
func ProvideAuthService(i do.Injector) (*auth.Service, error) {
	accounts := do.MustInvoke[*AccountStoreHandle](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	outbox := do.MustInvoke[*auth.Outbox](i)
	log := do.MustInvoke[*logger.Logger](i)

	hasher := auth.NewHasher(auth.DefaultHashParams)
	return auth.NewService(accounts.AccountStore, tokens, hasher, outbox, log.WithComponent("auth")), nil
}
