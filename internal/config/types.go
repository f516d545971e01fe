package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects the credential store backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFile      StorageKind = "file"
	StorageFirestore StorageKind = "firestore"
)

// BackendConfig describes the ClientSphere auth backend this client talks to.
type BackendConfig struct {
	BaseURL string        `json:"baseURL"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// GoogleConfig configures the Google identity provider bridge.
//
// Environment variable references using {"$env": "VAR_NAME"} syntax are
// resolved at config load time. The explicit JSON syntax avoids accidental
// shell expansion and makes references validatable at parse time.
type GoogleConfig struct {
	ClientID      string        `json:"clientId"`
	ClientSecret  Secret        `json:"clientSecret,omitempty"`
	LoopbackPort  int           `json:"loopbackPort,omitempty"` // 0 picks an ephemeral port
	SignInTimeout time.Duration `json:"signInTimeout,omitempty"`
}

// StorageConfig selects and configures the credential store backend.
type StorageConfig struct {
	Kind StorageKind `json:"kind"`

	// File backend
	Path string `json:"path,omitempty"`

	// Firestore backend
	GCPProject          string `json:"gcpProject,omitempty"`
	FirestoreDatabase   string `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string `json:"firestoreCollection,omitempty"`
	CredentialsFile     string `json:"credentialsFile,omitempty"`
	EncryptionKey       Secret `json:"encryptionKey,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Backend BackendConfig `json:"backend"`
	Google  GoogleConfig  `json:"google"`
	Storage StorageConfig `json:"storage"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference object, resolving the reference immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	if envVar, ok := ref["$env"]; ok {
		value := os.Getenv(envVar)
		if value == "" {
			return "", fmt.Errorf("environment variable %s not set", envVar)
		}
		// Strip surrounding quotes if present (only matching pairs)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		return value, nil
	}

	return "", fmt.Errorf("unknown reference type in config value")
}
