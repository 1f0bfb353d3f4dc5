package models

import "time"

// Counterpart is how the other side of a conversation is displayed.
type Counterpart struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Chat is a persistent two-party conversation.
type Chat struct {
	ID             string      `json:"_id"`
	ParticipantIDs []string    `json:"participants,omitempty"`
	Counterpart    Counterpart `json:"counterpart"`
}

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
)

// VoiceMessageLabel is the content label carried by audio messages.
const VoiceMessageLabel = "Voice Message"

// Attachment is the descriptor returned by the upload endpoint.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Sender identifies who sent a message.
type Sender struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// Message is one entry in a conversation. Messages are never edited once
// appended; read state is tracked per conversation, not per message.
type Message struct {
	ID         string      `json:"_id"`
	ChatID     string      `json:"chatId"`
	Sender     Sender      `json:"sender"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Kind returns the message type, treating an unset type as text.
func (m Message) Kind() MessageType {
	if m.Type == "" {
		return MessageText
	}
	return m.Type
}

// Valid checks the content/attachment invariant: text messages carry
// non-empty content and no attachment; image messages carry an attachment
// and may keep a caption; file and audio messages carry an attachment plus
// an optional label.
func (m Message) Valid() bool {
	switch m.Kind() {
	case MessageText:
		return m.Content != "" && m.Attachment == nil
	case MessageImage, MessageFile, MessageAudio:
		return m.Attachment != nil && m.Attachment.URL != ""
	}
	return false
}
