package core

import "fmt"

// TextMessage carries up to MaxMessageSize bytes of text. Content is not
// required to be valid UTF-8 or free of NUL bytes.
type TextMessage struct {
	Content string
}

func NewTextMessage(content string) *TextMessage {
	return &TextMessage{Content: content}
}

// SerializeText serializes a text message to bytes
func (p *Proto) SerializeText(msg *TextMessage) ([]byte, error) {
	if err := p.validateText(msg); err != nil {
		return nil, fmt.Errorf("text validation failed: %w", err)
	}

	return p.frame(TypeText, []byte(msg.Content))
}

// DeserializeText deserializes bytes to a text message
func (p *Proto) DeserializeText(data []byte) (*TextMessage, error) {
	payload, err := p.payload(data, TypeText, 0)
	if err != nil {
		return nil, err
	}

	msg := &TextMessage{Content: string(payload)}
	if err := p.validateText(msg); err != nil {
		return nil, fmt.Errorf("%w: text validation failed: %w", ErrFraming, err)
	}

	return msg, nil
}

func (p *Proto) validateText(msg *TextMessage) error {
	if len(msg.Content) > MaxMessageSize {
		return ErrStringTooLong
	}
	return nil
}
