package chat

import (
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/eldtechnologies/carelink/internal/models"
)

// MaxAttachmentSize is the largest file accepted for upload.
const MaxAttachmentSize = 10 << 20

// Rejection reasons shown to the user.
const (
	ReasonTooLarge       = "File size must be less than 10MB"
	ReasonUnsupported    = "File type not supported. Please upload an image (JPEG, PNG, GIF, WebP), PDF or Word document"
	ReasonEmptyRecording = "Recording is empty"
)

// ValidationError is a client-side rejection. Reason is user-facing.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

const docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var allowedTypes = map[string]models.MessageType{
	"image/jpeg":         models.MessageImage,
	"image/png":          models.MessageImage,
	"image/gif":          models.MessageImage,
	"image/webp":         models.MessageImage,
	"application/pdf":    models.MessageFile,
	"application/msword": models.MessageFile,
	docxType:             models.MessageFile,
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": docxType,
}

// File is an attachment picked by the user.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ValidateAttachment checks size and type before any network call and
// returns the message type the file will be sent as. A missing content
// type is inferred from the file extension; f.ContentType is normalized.
func ValidateAttachment(f *File) (models.MessageType, error) {
	if f.Size > MaxAttachmentSize {
		return "", &ValidationError{Reason: ReasonTooLarge}
	}

	contentType := f.ContentType
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = mediaType
		}
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = extensionTypes[strings.ToLower(filepath.Ext(f.Name))]
	}

	kind, ok := allowedTypes[strings.ToLower(contentType)]
	if !ok {
		return "", &ValidationError{Reason: ReasonUnsupported}
	}
	f.ContentType = strings.ToLower(contentType)
	return kind, nil
}
