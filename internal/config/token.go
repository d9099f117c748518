package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	tokenService = "huddle"
	tokenAccount = "api_token"
)

// GetAPIToken returns the bearer token protecting the management API,
// generating and persisting a fresh one on first use.
func GetAPIToken() (string, error) {
	if out, err := keychainGet(tokenService, tokenAccount); err == nil {
		token := strings.TrimSpace(string(out))
		if token != "" {
			return token, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := keychainSet(tokenService, tokenAccount, token); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return token, nil
}
