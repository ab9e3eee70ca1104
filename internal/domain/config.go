package domain

import "context"

// NotificationPolicy selects which conversation classes produce recovery
// notifications. Owned by the external per-user config store; read-only to
// the core.
type NotificationPolicy struct {
	All            bool `json:"all"`
	DirectMessages bool `json:"directMessages"`
	Groups         bool `json:"groups"`
	Statuses       bool `json:"statuses"`
}

// ShouldNotify resolves the policy against a conversation class.
func (p NotificationPolicy) ShouldNotify(class ConversationClass) bool {
	if p.All {
		return true
	}
	switch class {
	case ClassDirect:
		return p.DirectMessages
	case ClassGroup:
		return p.Groups
	case ClassStatus:
		return p.Statuses
	default:
		return false
	}
}

// UserConfig is the owner's persisted runtime settings.
type UserConfig struct {
	OwnerID       string             `json:"ownerId"`
	Prefix        string             `json:"prefix"`
	Shortcuts     map[string]string  `json:"shortcuts"` // emoji/word → command name
	Policy        NotificationPolicy `json:"policy"`
	Allowed       []string           `json:"allowed"` // non-owner senders permitted to run commands
	Banned        []string           `json:"banned"`  // senders rejected before any side effect
	AutoReply     bool               `json:"autoReply"`
	AutoReplyText string             `json:"autoReplyText"`
}

// DefaultUserConfig is the initial settings written on first run.
func DefaultUserConfig(ownerID string) UserConfig {
	return UserConfig{
		OwnerID:   ownerID,
		Prefix:    ".",
		Shortcuts: map[string]string{"♻️": "recover"},
		Policy: NotificationPolicy{
			DirectMessages: true,
			Groups:         true,
			Statuses:       true,
		},
	}
}

// IsBanned reports whether sender is on the ban list.
func (c UserConfig) IsBanned(sender string) bool {
	for _, b := range c.Banned {
		if SameUser(b, sender) {
			return true
		}
	}
	return false
}

// IsAllowed reports whether a non-owner sender is on the allow list.
func (c UserConfig) IsAllowed(sender string) bool {
	for _, a := range c.Allowed {
		if SameUser(a, sender) {
			return true
		}
	}
	return false
}

// ConfigStore is the external per-user configuration store.
type ConfigStore interface {
	GetUserConfig(ctx context.Context, ownerID string) (UserConfig, error)
	UpdateUserConfig(ctx context.Context, cfg UserConfig) error
}
