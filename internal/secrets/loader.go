package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService groups jobpipe secrets in the OS keychain.
const KeyringService = "jobpipe"

// Source describes how to load a secret value.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret value provided via configuration or flags.
	Value string
	// File points to a file containing the secret value. When set it takes
	// precedence over Value.
	File string
	// KeyringAccount is looked up in the OS keychain when neither File nor
	// Value yield a secret.
	KeyringAccount string
}

// Load resolves the secret from File, then Value, then the keychain. The
// returned secret is always trimmed.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	if secret := strings.TrimSpace(src.Value); secret != "" {
		return secret, nil
	}

	if account := strings.TrimSpace(src.KeyringAccount); account != "" {
		secret, err := keyring.Get(KeyringService, account)
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%s is not in the keychain under %q", name, account)
		}
		if err != nil {
			return "", fmt.Errorf("reading %s from keychain: %w", name, err)
		}
		if secret = strings.TrimSpace(secret); secret != "" {
			return secret, nil
		}
	}

	return "", fmt.Errorf("%s is not configured", name)
}

// Store saves value in the keychain under account.
func Store(account, value string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret is empty")
	}
	return keyring.Set(KeyringService, account, strings.TrimSpace(value))
}

// Delete removes account from the keychain.
func Delete(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Delete(KeyringService, account)
}
