package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const credentialsFile = "credentials.json"

// credentials mirrors credentials.json in the config directory.
type credentials struct {
	BearerToken string `json:"bearer_token"`
}

// readJSONFile reads a JSON file and unmarshals it into the provided variable.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// loadBearerToken reads the bearer token from the credentials file.
// A missing file yields an empty token.
func loadBearerToken() (string, error) {
	configDir, err := getConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to get config path: %w", err)
	}

	var creds credentials
	if err := readJSONFile(filepath.Join(configDir, credentialsFile), &creds); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", credentialsFile, err)
	}

	return creds.BearerToken, nil
}
