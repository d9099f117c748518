//go:build darwin

package config

import (
	"fmt"
	"os/exec"
)

func keychainGet(service, account string) ([]byte, error) {
	return exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
}

func keychainSet(service, account, value string) error {
	err := exec.Command(
		"security", "add-generic-password",
		"-s", service,
		"-a", account,
		"-w", value,
		"-U",
	).Run()
	if err != nil {
		return fmt.Errorf("storing secret in keychain: %w", err)
	}
	return nil
}
