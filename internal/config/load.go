package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clientsphere/sessionkit/internal/envutil"
)

// DefaultSignInTimeout bounds the Google sign-in flow when the config does
// not override it.
const DefaultSignInTimeout = 60 * time.Second

// DefaultBackendTimeout bounds individual backend HTTP calls.
const DefaultBackendTimeout = 30 * time.Second

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Backend.Timeout == 0 {
		config.Backend.Timeout = DefaultBackendTimeout
	}
	if config.Google.SignInTimeout == 0 {
		config.Google.SignInTimeout = DefaultSignInTimeout
	}
	if config.Storage.Kind == "" {
		config.Storage.Kind = StorageFile
	}
	if config.Storage.Kind == StorageFile && config.Storage.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			config.Storage.Path = filepath.Join(home, ".sessionkit", "credentials.json")
		}
	}
	if config.Storage.FirestoreCollection == "" {
		config.Storage.FirestoreCollection = "sessionkit_credentials"
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Backend.BaseURL == "" {
		return fmt.Errorf("backend.baseURL is required")
	}
	parsed, err := url.Parse(config.Backend.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend.baseURL must be an absolute URL")
	}

	switch config.Storage.Kind {
	case StorageMemory:
	case StorageFile:
		if config.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for file storage")
		}
	case StorageFirestore:
		if config.Storage.GCPProject == "" {
			return fmt.Errorf("storage.gcpProject is required for firestore storage")
		}
		if config.Storage.EncryptionKey == "" {
			return fmt.Errorf("storage.encryptionKey is required for firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage kind: %s", config.Storage.Kind)
	}

	return nil
}

// IsPlaceholderClientID reports whether the Google client id is absent or
// still set to a template value, which must fail sign-in before any prompt
// is attempted.
func IsPlaceholderClientID(clientID string) bool {
	if clientID == "" {
		return true
	}
	lower := strings.ToLower(clientID)
	return strings.Contains(lower, "your_google_client_id") ||
		strings.HasPrefix(lower, "your-") ||
		strings.HasPrefix(lower, "changeme")
}

// ValidationIssue describes one problem found while validating a config file.
type ValidationIssue struct {
	Path    string
	Message string
}

// ValidationResult collects validation errors and warnings for the -validate
// CLI path.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// ValidateFile loads a config file and reports every issue found rather than
// stopping at the first.
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{Message: err.Error()})
		return result, nil
	}
	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{Message: err.Error()})
	}

	if strings.HasPrefix(config.Backend.BaseURL, "http://") && !envutil.IsDev() {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Path:    "backend.baseURL",
			Message: "plain http backend URL; credentials will travel unencrypted outside development",
		})
	}
	if IsPlaceholderClientID(config.Google.ClientID) {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Path:    "google.clientId",
			Message: "missing or placeholder client id; Google sign-in will be unavailable",
		})
	}
	if config.Storage.Kind == StorageFirestore && len(config.Storage.EncryptionKey) != 0 &&
		len(config.Storage.EncryptionKey) != 32 && len(config.Storage.EncryptionKey) != 44 {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Path:    "storage.encryptionKey",
			Message: "encryption key should be 32 raw bytes or 44 base64 characters",
		})
	}

	return result, nil
}
