package domain

// SendMessageCommand is validated before anything reaches the remote store.
type SendMessageCommand struct {
	ChannelID   ChannelID    `validate:"required"`
	AuthorID    string       `validate:"required"`
	Content     string       `validate:"required"`
	Attachments []Attachment `validate:"dive"`
}

func (c SendMessageCommand) ToNewMessage() NewMessage {
	return NewMessage{
		ChannelID:   c.ChannelID,
		AuthorID:    c.AuthorID,
		Content:     c.Content,
		Attachments: c.Attachments,
	}
}
