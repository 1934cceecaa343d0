package chat

// Conversation is an ordered list of turns, newest last.
type Conversation []Turn

// Last returns the newest turn.
func (c Conversation) Last() (Turn, bool) {
	if len(c) == 0 {
		return Turn{}, false
	}
	return c[len(c)-1], true
}

// Clone deep-copies every turn so callers can hold the result without
// observing later appends.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	copied := make(Conversation, len(c))
	for i, turn := range c {
		copied[i] = turn.Clone()
	}
	return copied
}
