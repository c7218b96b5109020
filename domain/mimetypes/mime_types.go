package mimetypes

import (
	"mime"
	"strings"
)

type MIME string

const (
	Unknown   MIME = "unknown"
	TextPlain MIME = "text/plain"

	ApplicationPDF  MIME = "application/pdf"
	ApplicationJSON MIME = "application/json"

	ImagePNG  MIME = "image/png"
	ImageJPEG MIME = "image/jpeg"
	ImageGIF  MIME = "image/gif"
)

// Category groups attachment types the way a chat client renders them.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryAudio    Category = "audio"
	CategoryVideo    Category = "video"
	CategoryText     Category = "text"
	CategoryDocument Category = "document"
	CategoryFile     Category = "file"
)

// Matches reports whether detected, parameters included, names the expected type.
func Matches(detected string, expected MIME) (MIME, bool) {
	mt, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return Unknown, false
	}
	return MIME(mt), mt == string(expected)
}

func Classify(mimeType string) Category {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return CategoryFile
	}
	top, _, _ := strings.Cut(mt, "/")
	switch {
	case top == "image":
		return CategoryImage
	case top == "audio":
		return CategoryAudio
	case top == "video":
		return CategoryVideo
	case top == "text":
		return CategoryText
	case MIME(mt) == ApplicationPDF:
		return CategoryDocument
	}
	return CategoryFile
}
