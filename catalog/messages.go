package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"xcomlink/scom"
)

//go:embed data/messages_en.json
var messagesEN []byte

// MessageDef is one entry of the RCC message catalog.
type MessageDef struct {
	Level  scom.Level
	Number uint16
	Text   string
}

// MessageSet maps RCC message numbers to their display texts.
type MessageSet struct {
	messages []MessageDef
}

type rawMessage struct {
	Lvl string  `json:"lvl"`
	Nr  *uint16 `json:"nr"`
	Msg string  `json:"msg"`
}

// LoadMessages decodes the embedded message catalog for a language.
func LoadMessages(language string) (*MessageSet, error) {
	var data []byte
	switch language {
	case "en":
		data = messagesEN
	default:
		return nil, fmt.Errorf("LoadMessages: unknown language %q", language)
	}

	var raw []rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("LoadMessages: %w", err)
	}

	set := &MessageSet{}
	for _, r := range raw {
		if r.Nr == nil || r.Msg == "" {
			continue
		}
		level, ok := scom.ParseLevel(r.Lvl)
		if !ok {
			continue
		}
		set.messages = append(set.messages, MessageDef{
			Level:  level,
			Number: *r.Nr,
			Text:   strings.TrimSpace(r.Msg),
		})
	}
	return set, nil
}

// ByNr finds a message definition by number.
func (s *MessageSet) ByNr(nr uint16) (MessageDef, error) {
	for _, m := range s.messages {
		if m.Number == nr {
			return m, nil
		}
	}
	return MessageDef{}, fmt.Errorf("ByNr: unknown message %d", nr)
}

// StringByNr returns the display text for a message number, with a fallback
// for messages missing from the catalog.
func (s *MessageSet) StringByNr(nr uint16) string {
	m, err := s.ByNr(nr)
	if err != nil {
		return fmt.Sprintf("(%d): unknown message", nr)
	}
	return m.Text
}
