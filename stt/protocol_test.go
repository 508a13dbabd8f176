package stt

import (
	"encoding/json"
	"testing"
)

func TestParseServerMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ServerMessage
		wantErr bool
	}{
		{
			name: "partial transcription",
			in:   `{"type":"transcription","text":"Hello","isFinal":false,"start":0,"end":0}`,
			want: ServerMessage{Type: TypeTranscription, Text: "Hello"},
		},
		{
			name: "status",
			in:   `{"type":"status","message":"Started transcription"}`,
			want: ServerMessage{Type: TypeStatus, Message: "Started transcription"},
		},
		{name: "not json", in: `{oops`, wantErr: true},
		{name: "no type", in: `{"text":"x"}`, wantErr: true},
		{name: "wrong field type", in: `{"type":"translation","isFinal":"yes"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServerMessage([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseServerMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got.Start, got.End = nil, nil
			if got != tt.want {
				t.Errorf("ParseServerMessage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestServerMessageTimes(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"transcription","text":"a","isFinal":true,"start":1200,"end":2400.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Start == nil || *msg.Start != 1200 || msg.End == nil || *msg.End != 2400.5 {
		t.Errorf("times = %v, %v", msg.Start, msg.End)
	}
}

func TestControlMessageWireFormat(t *testing.T) {
	tests := []struct {
		msg  ControlMessage
		want string
	}{
		{StartMessage(), `{"type":"start"}`},
		{StopMessage(), `{"type":"stop"}`},
		{
			SetLanguagesMessage(Languages{Source: "en", Target: "es"}),
			`{"type":"setLanguages","sourceLanguage":"en","targetLanguage":"es"}`,
		},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tt.want {
			t.Errorf("json = %s, want %s", b, tt.want)
		}
	}
}
