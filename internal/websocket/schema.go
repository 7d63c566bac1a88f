package websocket

import "github.com/stemsi/exstem-session/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSave   Action = "save"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionSubmit Action = "submit"
	ActionCheat  Action = "cheat"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SaveRequest is the heartbeat sent over the stream.
type SaveRequest struct {
	Action   Action            `json:"action"`
	Answers  model.AnswerSheet `json:"answers"`
	TimeLeft *int              `json:"time_left"`
}

// PauseRequest pauses the session, e.g. when the tab loses visibility.
type PauseRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// SubmitRequest finishes the exam. Without answers the saved progress is
// graded. It is also the shape of a cheat report, which submits with the
// CHEAT trigger and records the payload as the reason.
type SubmitRequest struct {
	Action  Action             `json:"action"`
	Answers *model.AnswerSheet `json:"answers"`
	Payload string             `json:"payload,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSaved   Event = "saved"
	EventPaused  Event = "paused"
	EventResumed Event = "resumed"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

// Response carries the result of an action.
type Response struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorResponse reports a rejected action. Code matches the HTTP API codes.
type ErrorResponse struct {
	Event    Event  `json:"event"`
	Code     string `json:"code"`
	Error    string `json:"error"`
	IsPaused bool   `json:"is_paused,omitempty"`
}
