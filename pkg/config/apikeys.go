package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lissto-dev/imagecache/pkg/auth"
	"github.com/lissto-dev/imagecache/pkg/k8s"
)

// SecretKey is the data key holding API keys YAML in the API keys secret
const SecretKey = "api-keys.yaml"

// APIKey represents an API key configuration
type APIKey struct {
	Role   string `yaml:"role" validate:"oneof=admin editor user"`
	APIKey string `yaml:"api_key" validate:"required,min=16"`
	Name   string `yaml:"name,omitempty"`
}

// APIKeysConfig represents the API keys file structure
type APIKeysConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`
}

// LoadAPIKeys loads API keys from a YAML file
func LoadAPIKeys(filename string) ([]APIKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read API keys file: %w", err)
	}
	return parseAPIKeys(data)
}

// LoadAPIKeysFromSecret loads API keys from a Kubernetes secret. A missing
// secret yields no keys.
func LoadAPIKeysFromSecret(ctx context.Context, client *k8s.Client, namespace, name string) ([]APIKey, error) {
	data, err := client.SecretValue(ctx, namespace, name, SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return parseAPIKeys(data)
}

func parseAPIKeys(data []byte) ([]APIKey, error) {
	var config APIKeysConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse API keys: %w", err)
	}
	for _, k := range config.APIKeys {
		if !auth.Valid(k.Role) {
			return nil, fmt.Errorf("API key %q has unknown role %q", k.Name, k.Role)
		}
	}
	return config.APIKeys, nil
}

// MergeAPIKeys appends keys from extra whose key value is not already present
func MergeAPIKeys(base, extra []APIKey) []APIKey {
	out := append([]APIKey(nil), base...)
	for _, k := range extra {
		if _, found := FindAPIKeyByKey(out, k.APIKey); !found {
			out = append(out, k)
		}
	}
	return out
}

// FindAPIKeyByKey finds an API key by its key value
func FindAPIKeyByKey(apiKeys []APIKey, key string) (*APIKey, bool) {
	for _, ak := range apiKeys {
		if ak.APIKey == key {
			return &ak, true
		}
	}
	return nil, false
}

// GenerateAPIKey returns a new random key prefixed with its role
func GenerateAPIKey(role string) string {
	return role + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SaveAPIKeysToSecret writes keys to the secret, creating it if needed
func SaveAPIKeysToSecret(ctx context.Context, client *k8s.Client, namespace, name string, keys []APIKey) error {
	data, err := yaml.Marshal(APIKeysConfig{APIKeys: keys})
	if err != nil {
		return fmt.Errorf("failed to marshal API keys: %w", err)
	}

	return client.SetSecretValue(ctx, namespace, name, SecretKey, data)
}
