package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/earshot/pkg/types"
)

// ── Stream protocol ───────────────────────────────────────────────────────────

// streamEvent is one client→server frame on the stream socket.
type streamEvent struct {
	// Type selects the event: "transcript", "app_change", or "ping".
	Type string `json:"type"`

	// transcript
	ID         string  `json:"id,omitempty"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// app_change
	App string `json:"app,omitempty"`
}

// streamReply is one server→client frame.
type streamReply struct {
	// Type selects the reply: "resolution", "mode", "error", or "pong".
	Type string `json:"type"`

	// UtteranceID echoes the transcript id an error refers to, when known.
	UtteranceID string `json:"utterance_id,omitempty"`

	Resolution *resolutionPayload `json:"resolution,omitempty"`
	Mode       string             `json:"mode,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// handleStream handles GET /v1/stream. Each connection is one transcription
// session: the client pushes transcript events as the STT collaborator emits
// them and app_change events as window focus moves, and receives one
// resolution reply per transcript. Replies are written in event order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("stream accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session over")

	ctx := r.Context()
	s.logger.Info("stream session opened", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if ctx.Err() != nil || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.logger.Info("stream session closed", "remote", r.RemoteAddr)
			} else {
				s.logger.Warn("stream read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		var evt streamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.writeReply(ctx, conn, streamReply{Type: "error", Error: "malformed event"})
			continue
		}
		s.writeReply(ctx, conn, s.handleStreamEvent(ctx, &evt))
	}
}

// handleStreamEvent produces the reply for one decoded event.
func (s *Server) handleStreamEvent(ctx context.Context, evt *streamEvent) streamReply {
	switch evt.Type {
	case "transcript":
		if evt.Text == "" {
			return streamReply{Type: "error", UtteranceID: evt.ID, Error: "transcript text is required"}
		}
		utt := types.Utterance{
			ID:         evt.ID,
			Text:       evt.Text,
			Confidence: evt.Confidence,
			Timestamp:  time.Now(),
		}
		if utt.ID == "" {
			utt.ID = uuid.NewString()
		}
		res, err := s.resolver.Resolve(ctx, utt)
		if err != nil {
			return streamReply{Type: "error", UtteranceID: utt.ID, Error: err.Error()}
		}
		payload := toPayload(res, s.submit(res))
		return streamReply{Type: "resolution", Resolution: &payload}

	case "app_change":
		if s.tracker == nil {
			return streamReply{Type: "error", Error: "context tracking is not enabled"}
		}
		mode := s.tracker.ObserveApp(evt.App)
		return streamReply{Type: "mode", Mode: string(mode)}

	case "ping":
		return streamReply{Type: "pong"}

	default:
		return streamReply{Type: "error", Error: "unknown event type: " + evt.Type}
	}
}

// writeReply marshals and sends one frame. Write failures end the session on
// the next read, so they are only logged here.
func (s *Server) writeReply(ctx context.Context, conn *websocket.Conn, reply streamReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("stream reply marshal failed", "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Warn("stream write failed", "error", err)
	}
}
