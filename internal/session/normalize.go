package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clientsphere/sessionkit/internal/identity"
)

// rawUser is the input union of every user shape the backend endpoints
// return: numeric or string ids, snake_case or camelCase timestamps,
// sometimes no role at all.
type rawUser struct {
	ID             json.RawMessage `json:"id"`
	Name           string          `json:"name"`
	FullName       string          `json:"full_name"`
	Email          string          `json:"email"`
	Avatar         string          `json:"avatar"`
	AvatarURL      string          `json:"avatar_url"`
	Picture        string          `json:"picture"`
	Role           string          `json:"role"`
	CreatedAtSnake string          `json:"created_at"`
	CreatedAtCamel string          `json:"createdAt"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeUser maps a raw backend user payload to the internal User. This
// is the only place that mapping happens; every other component consumes
// identity.User.
func NormalizeUser(raw json.RawMessage) (identity.User, error) {
	var ru rawUser
	if err := json.Unmarshal(raw, &ru); err != nil {
		return identity.User{}, fmt.Errorf("decoding user payload: %w", err)
	}

	id, err := normalizeID(ru.ID)
	if err != nil {
		return identity.User{}, err
	}
	if ru.Email == "" {
		return identity.User{}, fmt.Errorf("user payload missing email")
	}

	name := ru.Name
	if name == "" {
		name = ru.FullName
	}
	if name == "" {
		// The backend derives a display name from the email local part on
		// some paths; mirror that instead of showing an empty name.
		name, _, _ = strings.Cut(ru.Email, "@")
	}

	avatar := ru.Avatar
	if avatar == "" {
		avatar = ru.AvatarURL
	}
	if avatar == "" {
		avatar = ru.Picture
	}

	return identity.User{
		ID:        id,
		Name:      name,
		Email:     ru.Email,
		AvatarURL: avatar,
		Role:      normalizeRole(ru.Role),
		CreatedAt: normalizeCreatedAt(ru.CreatedAtSnake, ru.CreatedAtCamel),
	}, nil
}

func normalizeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("user payload missing id")
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return "", fmt.Errorf("user payload has empty id")
		}
		return asString, nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String(), nil
	}

	return "", fmt.Errorf("user id is neither string nor number")
}

// normalizeRole trusts only the two roles the backend derives. Anything
// else (including the legacy "user" value and absence) is a tenant.
func normalizeRole(role string) identity.Role {
	if r := identity.Role(strings.ToLower(role)); r.Valid() {
		return r
	}
	return identity.RoleTenant
}

func normalizeCreatedAt(snake, camel string) time.Time {
	value := snake
	if value == "" {
		value = camel
	}
	if value == "" {
		return time.Time{}
	}

	// Numeric epoch seconds show up on one legacy path.
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}

	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
