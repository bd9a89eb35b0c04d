// Package vault loads exchange credentials from HashiCorp Vault so API keys
// never live in config files on disk.
package vault

import (
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/logging"
)

// Credentials are the three secrets the exchange transport needs.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// LoadCredentials reads the exchange credentials from the configured KV
// path. Expected fields: api_key, secret_key, passphrase.
func LoadCredentials(cfg config.VaultConfig) (*Credentials, error) {
	vaultCfg := vaultapi.DefaultConfig()
	vaultCfg.Address = cfg.Address
	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultCfg.ConfigureTLS(&vaultapi.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("configuring vault tls: %w", err)
		}
	}

	client, err := vaultapi.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	secret, err := client.Logical().Read(cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cfg.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret at %s", cfg.SecretPath)
	}

	// KV v2 wraps the fields in a nested "data" map
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	creds := &Credentials{
		APIKey:     stringField(data, "api_key"),
		SecretKey:  stringField(data, "secret_key"),
		Passphrase: stringField(data, "passphrase"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("secret at %s is missing api_key or secret_key", cfg.SecretPath)
	}

	logging.Default().WithComponent("vault").Info("Exchange credentials loaded", "path", cfg.SecretPath)
	return creds, nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
