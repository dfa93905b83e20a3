// ABOUTME: Unread scoping predicate shared by the SQL and in-memory stores
// ABOUTME: Unassigned conversations are visible to every agent until claimed

package store

// UnreadScope narrows unread queries. A nil field means "any".
type UnreadScope struct {
	// ConversationID limits results to one conversation.
	ConversationID *int64

	// UserID is assignment scoping: a message is visible when its
	// conversation is assigned to this user or is unassigned.
	UserID *int64

	// SenderID is attribution scoping on message.user_id.
	SenderID *int64
}

// Matches reports whether msg, living in conv, is unread and inside the scope.
// conv may be nil only when UserID is nil.
func (s UnreadScope) Matches(msg *Message, conv *Conversation) bool {
	if !msg.Unread() {
		return false
	}
	if s.ConversationID != nil && msg.ConversationID != *s.ConversationID {
		return false
	}
	if s.SenderID != nil && (msg.UserID == nil || *msg.UserID != *s.SenderID) {
		return false
	}
	if s.UserID != nil {
		if conv == nil {
			return false
		}
		return VisibleTo(conv, *s.UserID)
	}
	return true
}

// VisibleTo is the ownership rule: assigned to userID, or nobody.
func VisibleTo(conv *Conversation, userID int64) bool {
	return conv.AssignedUserID == nil || *conv.AssignedUserID == userID
}

// where renders the scope as a SQL predicate over messages m joined to conversations c.
func (s UnreadScope) where() (string, []any) {
	clause := "m.direction = 'inbound' AND m.read_at IS NULL"
	var args []any
	if s.ConversationID != nil {
		clause += " AND m.conversation_id = ?"
		args = append(args, *s.ConversationID)
	}
	if s.SenderID != nil {
		clause += " AND m.user_id = ?"
		args = append(args, *s.SenderID)
	}
	if s.UserID != nil {
		clause += " AND (c.assigned_user_id = ? OR c.assigned_user_id IS NULL)"
		args = append(args, *s.UserID)
	}
	return clause, args
}
