package domain

// User is a persisted bot user, keyed by the sender ID assigned by the
// messaging platform (Slack ID, WebSocket client ID, ...).
type User struct {
	ID      string
	Context ConversationContext
}

// Conversation groups the dialog turns belonging to one continuous
// conversation for a user.
type Conversation struct {
	ID        string
	UserID    string
	CreatedAt string
}

// DialogTurn is a single logged request/reply exchange within a conversation.
// Turns are append-only and immutable once written.
type DialogTurn struct {
	Name            string
	Message         string
	Reply           string
	TimestampMillis int64
}
