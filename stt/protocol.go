package stt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Control message types sent to the backend.
const (
	TypeStart        = "start"
	TypeStop         = "stop"
	TypeSetLanguages = "setLanguages"
)

// Message types received from the backend.
const (
	TypeTranscription         = "transcription"
	TypeTranslation           = "translation"
	TypeStatus                = "status"
	TypeError                 = "error"
	TypeLanguageChangeRestart = "languageChangeRestart"
	TypeTargetLanguageChanged = "targetLanguageChanged"
)

var (
	ErrSameLanguages   = errors.New("source and target language must differ")
	ErrMissingLanguage = errors.New("missing language")
)

// Languages is the source/target pair of a session.
type Languages struct {
	Source string `json:"sourceLanguage"`
	Target string `json:"targetLanguage"`
}

func (l Languages) Validate() error {
	if strings.TrimSpace(l.Source) == "" || strings.TrimSpace(l.Target) == "" {
		return ErrMissingLanguage
	}
	if l.Source == l.Target {
		return ErrSameLanguages
	}
	return nil
}

func (l Languages) String() string {
	return l.Source + "→" + l.Target
}

type ControlMessage struct {
	Type           string `json:"type"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

func StartMessage() ControlMessage { return ControlMessage{Type: TypeStart} }

func StopMessage() ControlMessage { return ControlMessage{Type: TypeStop} }

func SetLanguagesMessage(l Languages) ControlMessage {
	return ControlMessage{
		Type:           TypeSetLanguages,
		SourceLanguage: l.Source,
		TargetLanguage: l.Target,
	}
}

// ServerMessage is any message the backend sends. Start and End are only
// present on transcription messages.
type ServerMessage struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	IsFinal bool     `json:"isFinal,omitempty"`
	Message string   `json:"message,omitempty"`
	Start   *float64 `json:"start,omitempty"`
	End     *float64 `json:"end,omitempty"`
}

func ParseServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("parse server message: %w", err)
	}
	if msg.Type == "" {
		return ServerMessage{}, errors.New("parse server message: missing type")
	}
	return msg, nil
}

func ParseControlMessage(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("parse control message: %w", err)
	}
	if msg.Type == "" {
		return ControlMessage{}, errors.New("parse control message: missing type")
	}
	return msg, nil
}
