package bus

import (
	"node.town/tabscribe/snd"
	"node.town/tabscribe/stt"
)

// StartCapture asks the capture context to start streaming.
type StartCapture struct {
	SessionID string
	TabID     int
	Handle    snd.StreamHandle
	Languages stt.Languages
}

type StopCapture struct {
	SessionID string
}

type UpdateLanguages struct {
	SessionID string
	Languages stt.Languages
}

// Connected reports that the backend connection of a session is open and
// frames are being forwarded.
type Connected struct {
	SessionID string
}

// CaptureStopped acknowledges that every capture resource of a session
// has been released.
type CaptureStopped struct {
	SessionID string
	Reason    string
}

type ConnectionError struct {
	SessionID string
	Message   string
}

type NoticeLevel int

const (
	NoticeStatus NoticeLevel = iota
	NoticeFeedback
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeStatus:
		return "status"
	case NoticeFeedback:
		return "feedback"
	case NoticeError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a user visible message.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// SessionState mirrors the controller's view after every transition.
type SessionState struct {
	SessionID string
	Status    string
	TabID     int
	Languages stt.Languages
	Active    bool
}

type Clear struct{}
