// Package protocol defines the websocket messages exchanged between the kiosk
// controller and the browser renderer.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// controller -> renderer
	TypeSlideShow        MessageType = "slide_show"
	TypeSlidePlaceholder MessageType = "slide_placeholder"
	TypeVideoPlay        MessageType = "video_play"
	TypeVideoStop        MessageType = "video_stop"
	TypeRecognitionStart MessageType = "recognition_start"
	TypeRecognitionStop  MessageType = "recognition_stop"
	TypeSpeak            MessageType = "speak"
	TypeSpeechCancel     MessageType = "speech_cancel"
	TypeVoiceState       MessageType = "voice_state"
	TypeErrorEvent       MessageType = "error_event"

	// renderer -> controller
	TypeClientControl     MessageType = "client_control"
	TypeCapabilities      MessageType = "capabilities"
	TypeVoices            MessageType = "voices"
	TypeVideoMeta         MessageType = "video_meta"
	TypeVideoEnded        MessageType = "video_ended"
	TypeRecognitionResult MessageType = "recognition_result"
	TypeRecognitionError  MessageType = "recognition_error"
	TypeSpeechEnd         MessageType = "speech_end"
)

// Control actions carried by client_control.
const (
	ActionMic      = "mic"
	ActionClose    = "close"
	ActionAskAgain = "ask_again"
	ActionLanguage = "language"
	ActionToggle3D = "toggle_3d"
	ActionReload   = "reload"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type SlideShow struct {
	Type    MessageType `json:"type"`
	Index   int         `json:"index"`
	Kind    string      `json:"kind"`
	URL     string      `json:"url"`
	Caption string      `json:"caption,omitempty"`
}

type SlidePlaceholder struct {
	Type MessageType `json:"type"`
	Mode string      `json:"mode"`
	Text string      `json:"text"`
}

type VideoPlay struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
	URL  string      `json:"url"`
}

type VideoStop struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type RecognitionStart struct {
	Type   MessageType `json:"type"`
	ID     string      `json:"id"`
	Locale string      `json:"locale,omitempty"`
}

type RecognitionStop struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type Speak struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	Lang      string      `json:"lang"`
	VoiceName string      `json:"voice_name,omitempty"`
	Rate      float64     `json:"rate"`
	Pitch     float64     `json:"pitch"`
}

type SpeechCancel struct {
	Type MessageType `json:"type"`
}

type VoiceState struct {
	Type        MessageType `json:"type"`
	State       string      `json:"state"`
	Status      string      `json:"status"`
	Response    string      `json:"response"`
	OverlayOpen bool        `json:"overlay_open"`
	Language    string      `json:"language"`
	Mode        string      `json:"mode"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	Language string      `json:"language,omitempty"`
}

type Capabilities struct {
	Type        MessageType `json:"type"`
	Recognition bool        `json:"recognition"`
	Synthesis   bool        `json:"synthesis"`
}

type VoiceInfo struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

type Voices struct {
	Type   MessageType `json:"type"`
	Voices []VoiceInfo `json:"voices"`
}

type VideoMeta struct {
	Type       MessageType `json:"type"`
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	DurationMS int64       `json:"duration_ms"`
}

type VideoEnded struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type RecognitionResult struct {
	Type       MessageType `json:"type"`
	ID         string      `json:"id"`
	Transcript string      `json:"transcript"`
}

type RecognitionError struct {
	Type   MessageType `json:"type"`
	ID     string      `json:"id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type SpeechEnd struct {
	Type  MessageType `json:"type"`
	ID    string      `json:"id"`
	Error string      `json:"error,omitempty"`
}

// ParseClientMessage decodes and validates one renderer message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.TrimSpace(msg.Action)
		switch msg.Action {
		case ActionMic, ActionClose, ActionAskAgain, ActionLanguage, ActionToggle3D, ActionReload:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypeCapabilities:
		var msg Capabilities
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeVoices:
		var msg Voices
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeVideoMeta:
		var msg VideoMeta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" || msg.DurationMS <= 0 {
			return nil, errors.New("invalid video_meta")
		}
		return msg, nil
	case TypeVideoEnded:
		var msg VideoEnded
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" {
			return nil, errors.New("invalid video_ended")
		}
		return msg, nil
	case TypeRecognitionResult:
		var msg RecognitionResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" {
			return nil, errors.New("invalid recognition_result")
		}
		return msg, nil
	case TypeRecognitionError:
		var msg RecognitionError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" {
			return nil, errors.New("invalid recognition_error")
		}
		if msg.Code == "" {
			msg.Code = "unknown"
		}
		return msg, nil
	case TypeSpeechEnd:
		var msg SpeechEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" {
			return nil, errors.New("invalid speech_end")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
