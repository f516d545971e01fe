package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnmarshalJSON implements custom unmarshaling for BackendConfig
func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	type rawBackend struct {
		BaseURL json.RawMessage `json:"baseURL"`
		Timeout string          `json:"timeout,omitempty"`
	}

	var raw rawBackend
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.BaseURL != nil {
		baseURL, err := ParseConfigValue(raw.BaseURL)
		if err != nil {
			return fmt.Errorf("parsing baseURL: %w", err)
		}
		b.BaseURL = baseURL
	}

	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		b.Timeout = timeout
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for GoogleConfig
func (g *GoogleConfig) UnmarshalJSON(data []byte) error {
	type rawGoogle struct {
		ClientID      json.RawMessage `json:"clientId"`
		ClientSecret  json.RawMessage `json:"clientSecret,omitempty"`
		LoopbackPort  int             `json:"loopbackPort,omitempty"`
		SignInTimeout string          `json:"signInTimeout,omitempty"`
	}

	var raw rawGoogle
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.LoopbackPort = raw.LoopbackPort

	if raw.ClientID != nil {
		clientID, err := ParseConfigValue(raw.ClientID)
		if err != nil {
			return fmt.Errorf("parsing clientId: %w", err)
		}
		g.ClientID = clientID
	}

	if raw.ClientSecret != nil {
		secret, err := ParseConfigValue(raw.ClientSecret)
		if err != nil {
			return fmt.Errorf("parsing clientSecret: %w", err)
		}
		g.ClientSecret = Secret(secret)
	}

	if raw.SignInTimeout != "" {
		timeout, err := time.ParseDuration(raw.SignInTimeout)
		if err != nil {
			return fmt.Errorf("parsing signInTimeout: %w", err)
		}
		g.SignInTimeout = timeout
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawStorage struct {
		Kind                StorageKind     `json:"kind"`
		Path                string          `json:"path,omitempty"`
		GCPProject          json.RawMessage `json:"gcpProject,omitempty"`
		FirestoreDatabase   string          `json:"firestoreDatabase,omitempty"`
		FirestoreCollection string          `json:"firestoreCollection,omitempty"`
		CredentialsFile     string          `json:"credentialsFile,omitempty"`
		EncryptionKey       json.RawMessage `json:"encryptionKey,omitempty"`
	}

	var raw rawStorage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Kind = raw.Kind
	s.Path = raw.Path
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection
	s.CredentialsFile = raw.CredentialsFile

	if raw.GCPProject != nil {
		project, err := ParseConfigValue(raw.GCPProject)
		if err != nil {
			return fmt.Errorf("parsing gcpProject: %w", err)
		}
		s.GCPProject = project
	}

	if raw.EncryptionKey != nil {
		key, err := ParseConfigValue(raw.EncryptionKey)
		if err != nil {
			return fmt.Errorf("parsing encryptionKey: %w", err)
		}
		s.EncryptionKey = Secret(key)
	}

	return nil
}
