package domain

// Context keys owned by the conversation service's protocol. The bot reads
// and writes only these; everything else in the context is round-tripped
// untouched.
const (
	ctxKeyAction          = "action"
	ctxKeyNewConversation = "newConversation"
	ctxKeyConversationDoc = "conversationDocId"
	ctxKeyDate            = "date"
	ctxKeyLocation        = "location"
)

// ConversationContext is the state blob round-tripped between turns so the
// conversation service can track dialog position. It is an ordinary JSON
// object; callers that mutate one should work on a Clone so the persisted
// copy never aliases the service response.
type ConversationContext map[string]any

// Clone returns a deep copy. A nil context clones to an empty one so the
// copy is always writable.
func (c ConversationContext) Clone() ConversationContext {
	out := make(ConversationContext, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	default:
		return val
	}
}

// Action returns the directive tag set by the conversation service. The
// second return reports whether a non-null tag was present.
func (c ConversationContext) Action() (string, bool) {
	s, ok := c[ctxKeyAction].(string)
	return s, ok
}

// ClearAction nulls the action tag so a directive fires at most once per
// turn in which it appears. The key stays present as an explicit null.
func (c ConversationContext) ClearAction() {
	c[ctxKeyAction] = nil
}

// NewConversation reports whether the conversation service flagged the
// start of a new conversation.
func (c ConversationContext) NewConversation() bool {
	b, _ := c[ctxKeyNewConversation].(bool)
	return b
}

// SetNewConversation overwrites the new-conversation flag.
func (c ConversationContext) SetNewConversation(v bool) {
	c[ctxKeyNewConversation] = v
}

// ConversationDocID returns the stored conversation record ID, or "" when
// no conversation is active.
func (c ConversationContext) ConversationDocID() string {
	s, _ := c[ctxKeyConversationDoc].(string)
	return s
}

// SetConversationDocID writes the conversation record ID back into the
// context so subsequent turns reuse it.
func (c ConversationContext) SetConversationDocID(id string) {
	c[ctxKeyConversationDoc] = id
}

// Date returns the target calendar date captured by the dialog, as an
// ISO date string.
func (c ConversationContext) Date() string {
	s, _ := c[ctxKeyDate].(string)
	return s
}

// Location returns the free-text location captured by the dialog.
func (c ConversationContext) Location() string {
	s, _ := c[ctxKeyLocation].(string)
	return s
}
