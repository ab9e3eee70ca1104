package domain

import "strings"

// ConversationClass differentiates notification policy targets.
type ConversationClass string

const (
	ClassDirect ConversationClass = "direct"
	ClassGroup  ConversationClass = "group"
	ClassStatus ConversationClass = "status"
)

const (
	groupSuffix     = "@g.us"
	statusBroadcast = "status@broadcast"
	broadcastSuffix = "@broadcast"
)

// ClassOf derives the conversation class from the conversation identifier.
func ClassOf(conversationID string) ConversationClass {
	switch {
	case conversationID == statusBroadcast || strings.HasSuffix(conversationID, broadcastSuffix):
		return ClassStatus
	case strings.HasSuffix(conversationID, groupSuffix):
		return ClassGroup
	default:
		return ClassDirect
	}
}

// BareID strips the device part from a user identifier. The transport uses
// two formats for the same user ("1234:5@s.whatsapp.net" from devices,
// "1234@s.whatsapp.net" from chats); identity comparison must accept both.
func BareID(id string) string {
	user, domain, found := strings.Cut(id, "@")
	if i := strings.IndexAny(user, ":."); i >= 0 {
		user = user[:i]
	}
	if !found {
		return user
	}
	return user + "@" + domain
}

// SameUser reports whether two identifiers refer to the same user,
// accounting for the dual identity formats.
func SameUser(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return BareID(a) == BareID(b)
}
