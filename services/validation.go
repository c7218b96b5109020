package services

import (
	"chat-sync/domain"
	"chat-sync/domain/mimetypes"
	"chat-sync/errors"
	"fmt"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

// ValidateSend rejects a command before any remote call is made.
// maxContentLength counts runes; zero disables the limit.
func ValidateSend(cmd domain.SendMessageCommand, maxContentLength int) error {
	switch {
	case cmd.AuthorID == "":
		return errors.ErrMissingIdentity
	case cmd.ChannelID == "":
		return errors.ErrMissingChannel
	case cmd.Content == "":
		return errors.ErrEmptyContent
	case maxContentLength > 0 && utf8.RuneCountInString(cmd.Content) > maxContentLength:
		return fmt.Errorf("%w (%d > %d)", errors.ErrContentTooLong,
			utf8.RuneCountInString(cmd.Content), maxContentLength)
	}
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	for _, a := range cmd.Attachments {
		if len(a.Data) == 0 || a.MIMEType == "" {
			continue
		}
		if detected, ok := mimetypes.Matches(mimetype.Detect(a.Data).String(), mimetypes.MIME(a.MIMEType)); !ok {
			return fmt.Errorf("%w: attachment %s declared as %s but contains %s",
				errors.ErrValidation, a.Name, a.MIMEType, detected)
		}
	}
	return nil
}

// DetectAttachmentTypes fills in missing MIME types and sizes from inline data.
func DetectAttachmentTypes(attachments []domain.Attachment) []domain.Attachment {
	return lo.Map(attachments, func(a domain.Attachment, _ int) domain.Attachment {
		if len(a.Data) == 0 {
			return a
		}
		if a.MIMEType == "" {
			a.MIMEType = mimetype.Detect(a.Data).String()
		}
		if a.Size == 0 {
			a.Size = int64(len(a.Data))
		}
		return a
	})
}
