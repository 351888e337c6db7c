package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/assistd/assistd/internal/chat"
	"github.com/assistd/assistd/internal/logging"
	"github.com/assistd/assistd/internal/tool"
)

// maxChatBodyBytes caps the chat request body. Conversations that outgrow it
// should be truncated client-side, not shipped whole.
const maxChatBodyBytes = 1 << 20

// chat handles POST /api/ai/chat. Authentication and validation finish
// before any streaming starts, so their failures are ordinary single-shot
// JSON responses; once the SSE stream is open, all outcomes travel as frames.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeInvalidRequest(w, []tool.FieldViolation{
				{Field: "(body)", Reason: "exceeds the 1 MiB request limit"},
			})
			return
		}
		logging.Error().Str("requestID", requestID).Err(err).Msg("reading chat body failed")
		writeInternalError(w)
		return
	}

	req, err := chat.ParseRequest(body)
	if err != nil {
		var verr *chat.ValidationError
		if errors.As(err, &verr) {
			writeInvalidRequest(w, verr.Violations)
			return
		}
		writeInternalError(w)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeInternalError(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	sse.start()

	emit := func(e chat.StreamEvent) error {
		return sse.writeEvent(string(e.Type), e)
	}

	err = s.orchestrator.Stream(ctx, req, emit)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		// The request hit its time budget while the client is still
		// listening: tell it so instead of silently closing the stream.
		timeoutEvent := chat.StreamEvent{
			Type:    chat.EventError,
			ID:      chat.NewEventID(),
			Kind:    chat.ErrorKindTimeout,
			Message: "request timed out",
		}
		if emitErr := emit(timeoutEvent); emitErr != nil {
			logging.Debug().Str("requestID", requestID).Err(emitErr).Msg("timeout frame not delivered")
		}
	case errors.Is(err, context.Canceled):
		// Client went away; nothing left to tell anyone.
	default:
		// Terminal error frames are emitted by the orchestrator; here the
		// failure only needs to reach the logs.
		logging.Error().Str("requestID", requestID).Err(err).Msg("chat stream failed")
	}
}
