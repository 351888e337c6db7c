package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/assistd/assistd/internal/auth"
	"github.com/assistd/assistd/internal/event"
	"github.com/assistd/assistd/internal/logging"
	"github.com/assistd/assistd/internal/provider"
	"github.com/assistd/assistd/internal/tool"
)

const defaultMaxTurns = 8

// Options tunes the orchestrator's model calls.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	MaxTurns    int
}

// Orchestrator drives one chat turn: it streams the model's response,
// resolves server-executed tool calls in-turn and relays the rest to the
// caller. Constructed once at startup; all fields are read-only afterwards,
// so a single instance serves concurrent requests.
type Orchestrator struct {
	provider provider.Provider
	registry *tool.Registry
	bus      *event.Bus
	opts     Options
}

// NewOrchestrator wires the orchestrator's dependencies.
func NewOrchestrator(p provider.Provider, registry *tool.Registry, bus *event.Bus, opts Options) *Orchestrator {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	return &Orchestrator{provider: p, registry: registry, bus: bus, opts: opts}
}

// turnState carries what one model stream produced.
type turnState struct {
	content      string
	finishReason string
	callOrder    []string
	calls        map[string]*toolCallState
}

type toolCallState struct {
	name    string
	args    string
	emitted bool
}

// Stream runs the chat turn, delivering events through emit until a terminal
// event is sent. emit returning an error means the client is gone; the turn
// stops without emitting anything further. Context cancellation likewise
// stops the turn silently — mapping a deadline to a terminal frame is the
// handler's call, since only it knows whether the client is still listening.
func (o *Orchestrator) Stream(ctx context.Context, req *ChatRequest, emit func(StreamEvent) error) error {
	requestID := middleware.GetReqID(ctx)
	userID := ""
	if s, ok := auth.FromContext(ctx); ok {
		userID = s.UserID
	}

	events := 0
	send := func(e StreamEvent) error {
		e.ID = NewEventID()
		if err := emit(e); err != nil {
			return fmt.Errorf("emitting %s event: %w", e.Type, err)
		}
		events++
		return nil
	}

	o.bus.Publish(event.Event{Type: event.ChatStarted, Data: event.ChatStartedData{
		RequestID:      requestID,
		UserID:         userID,
		MessageCount:   len(req.Messages),
		HasCurrentFile: req.CurrentFile != nil,
	}})

	finishReason := ""
	var turnErr error
	defer func() {
		data := event.ChatFinishedData{RequestID: requestID, FinishReason: finishReason, Events: events}
		if turnErr != nil {
			data.Error = turnErr.Error()
		}
		// Synchronous: the finish record lands before the handler returns,
		// so a shutdown right after the response cannot lose it.
		o.bus.PublishSync(event.Event{Type: event.ChatFinished, Data: data})
	}()

	conversation := make([]*schema.Message, 0, len(req.Messages)+1)
	conversation = append(conversation, schema.SystemMessage(Compose(req.CurrentFile)))
	conversation = append(conversation, toEinoMessages(req.Messages)...)
	tools := o.registry.ToolInfos()

	for turn := 0; turn < o.opts.MaxTurns; turn++ {
		state, err := o.streamOnce(ctx, conversation, tools, send)
		if err != nil {
			turnErr = err
			return err
		}

		if len(state.callOrder) == 0 {
			finishReason = state.finishReason
			if finishReason == "" {
				finishReason = "stop"
			}
			turnErr = send(StreamEvent{Type: EventDone, FinishReason: finishReason})
			return turnErr
		}

		assistantMsg := &schema.Message{Role: schema.Assistant, Content: state.content}
		for _, id := range state.callOrder {
			call := state.calls[id]
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, schema.ToolCall{
				ID:       id,
				Function: schema.FunctionCall{Name: call.name, Arguments: call.args},
			})
		}
		conversation = append(conversation, assistantMsg)

		// Every server-executed call is dispatched, even when the model
		// batched it with calls the caller must run: the caller cannot
		// execute those tools itself, so their results must not be withheld.
		// Unknown names also go through Dispatch so the model hears about
		// its mistake as a tool error instead of silence.
		relayed := false
		for _, id := range state.callOrder {
			call := state.calls[id]
			if decl, known := o.registry.Get(tool.Name(call.name)); known && !decl.ServerExecuted {
				relayed = true
				continue
			}
			toolMsg, err := o.dispatch(ctx, requestID, id, call, send)
			if err != nil {
				turnErr = err
				return err
			}
			conversation = append(conversation, toolMsg)
		}

		if relayed {
			// The remaining calls belong to the caller's execution
			// environment: hand the turn over instead of fabricating results.
			finishReason = "tool_calls"
			turnErr = send(StreamEvent{Type: EventDone, FinishReason: finishReason})
			return turnErr
		}
	}

	finishReason = "max_turns"
	turnErr = send(StreamEvent{Type: EventDone, FinishReason: finishReason})
	return turnErr
}

// streamOnce consumes a single model stream, emitting text deltas and
// tool-call events as they become complete.
func (o *Orchestrator) streamOnce(ctx context.Context, conversation []*schema.Message, tools []*schema.ToolInfo, send func(StreamEvent) error) (*turnState, error) {
	stream, err := o.provider.CreateCompletion(ctx, &provider.CompletionRequest{
		Model:       o.opts.Model,
		Messages:    conversation,
		Tools:       tools,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		// Model errors are surfaced once, never retried.
		sendErr := send(StreamEvent{Type: EventError, Kind: ErrorKindUpstream, Message: err.Error()})
		if sendErr != nil {
			return nil, sendErr
		}
		return nil, fmt.Errorf("creating completion: %w", err)
	}
	defer stream.Close()

	state := &turnState{calls: make(map[string]*toolCallState)}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sendErr := send(StreamEvent{Type: EventError, Kind: ErrorKindUpstream, Message: err.Error()})
			if sendErr != nil {
				return nil, sendErr
			}
			return nil, fmt.Errorf("reading completion stream: %w", err)
		}

		if err := o.consumeChunk(msg, state, send); err != nil {
			return nil, err
		}
		if state.finishReason != "" && state.finishReason != "tool_calls" && state.finishReason != "tool_use" {
			break
		}
	}

	// Calls whose arguments never became valid JSON (or stayed empty) are
	// still announced before the turn acts on them.
	for _, id := range state.callOrder {
		call := state.calls[id]
		if call.emitted {
			continue
		}
		if call.args == "" {
			call.args = "{}"
		}
		if err := send(StreamEvent{Type: EventToolCall, CallID: id, Name: call.name, Input: callInput(call.args)}); err != nil {
			return nil, err
		}
		call.emitted = true
	}

	return state, nil
}

// consumeChunk folds one stream chunk into the turn state. Content arrives
// cumulatively, so the delta is the suffix past what was already seen.
func (o *Orchestrator) consumeChunk(msg *schema.Message, state *turnState, send func(StreamEvent) error) error {
	if msg.Content != "" && len(msg.Content) > len(state.content) {
		delta := msg.Content[len(state.content):]
		state.content = msg.Content
		if err := send(StreamEvent{Type: EventTextDelta, Delta: delta}); err != nil {
			return err
		}
	}

	for _, tc := range msg.ToolCalls {
		call, exists := state.calls[tc.ID]
		if !exists {
			call = &toolCallState{name: tc.Function.Name}
			state.calls[tc.ID] = call
			state.callOrder = append(state.callOrder, tc.ID)
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			call.args = tc.Function.Arguments
		}

		if !call.emitted && call.args != "" && json.Valid([]byte(call.args)) {
			if err := send(StreamEvent{Type: EventToolCall, CallID: tc.ID, Name: call.name, Input: callInput(call.args)}); err != nil {
				return err
			}
			call.emitted = true
		}
	}

	if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
		state.finishReason = msg.ResponseMeta.FinishReason
	}

	return nil
}

// dispatch runs one server-executed tool call and returns the tool message to
// append to the transcript. Unknown-tool and schema violations are relayed to
// both the client and the model as in-stream tool errors; they end the call,
// not the turn.
func (o *Orchestrator) dispatch(ctx context.Context, requestID, callID string, call *toolCallState, send func(StreamEvent) error) (*schema.Message, error) {
	name := tool.Name(call.name)
	result, err := o.registry.Dispatch(ctx, name, json.RawMessage(call.args))

	o.bus.Publish(event.Event{Type: event.ToolDispatched, Data: event.ToolDispatchedData{
		RequestID: requestID,
		Tool:      call.name,
		CallID:    callID,
		OK:        err == nil,
		Error:     errString(err),
	}})

	if err != nil {
		var schemaErr *tool.SchemaViolationError
		if !errors.Is(err, tool.ErrUnknownTool) && !errors.As(err, &schemaErr) {
			return nil, fmt.Errorf("dispatching %s: %w", call.name, err)
		}

		logging.Warn().Str("tool", call.name).Str("callID", callID).Err(err).Msg("tool call rejected")
		if sendErr := send(StreamEvent{Type: EventToolError, CallID: callID, Name: call.name, Error: err.Error()}); sendErr != nil {
			return nil, sendErr
		}
		return &schema.Message{
			Role:       schema.Tool,
			ToolCallID: callID,
			Content:    fmt.Sprintf("Error: %s", err.Error()),
		}, nil
	}

	if sendErr := send(StreamEvent{Type: EventToolResult, CallID: callID, Name: call.name, Result: json.RawMessage(result.Output)}); sendErr != nil {
		return nil, sendErr
	}

	if result.Proposal != nil {
		o.bus.Publish(event.Event{Type: event.PatchProposed, Data: event.PatchProposedData{
			RequestID:  requestID,
			ProposalID: result.Proposal.ID,
			Path:       result.Proposal.Path,
			Additions:  result.Proposal.Additions,
			Deletions:  result.Proposal.Deletions,
		}})
	}

	return &schema.Message{Role: schema.Tool, ToolCallID: callID, Content: result.Output}, nil
}

// toEinoMessages converts request history to the model wire format.
func toEinoMessages(messages []Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		role := schema.Assistant
		switch msg.Role {
		case RoleUser:
			role = schema.User
		case RoleTool:
			role = schema.Tool
		}

		einoMsg := &schema.Message{
			Role:       role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			einoMsg.ToolCalls = append(einoMsg.ToolCalls, schema.ToolCall{
				ID:       tc.ID,
				Function: schema.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
			})
		}
		result = append(result, einoMsg)
	}
	return result
}

// callInput normalizes accumulated tool arguments into a JSON value for the
// tool-call frame.
func callInput(args string) json.RawMessage {
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return json.RawMessage(quoted)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
