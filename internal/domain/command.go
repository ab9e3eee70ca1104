package domain

// CommandContext is derived per inbound text/reaction event before routing
// to a handler.
type CommandContext struct {
	RawText        string
	Command        string
	Args           []string
	SenderID       string
	ConversationID string
	FromMe         bool
	IsAuthorized   bool
	Quoted         *CachedMessage // from the transport's reply metadata, if any
}
