package domain

// ThreadPointer marks a sub-conversation anchored on a root message.
type ThreadPointer struct {
	ChannelID     ChannelID
	RootMessageID MessageID
	Snapshot      *Message
}
