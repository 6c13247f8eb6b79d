package api

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/cascade/internal/core/pipeline"
	"github.com/solatis/cascade/internal/dispatch"
	"github.com/solatis/cascade/internal/types"
)

type eventRequest struct {
	event       types.Event
	skipActions bool
}

// parseRequest converts {id?, type, created_ms?, payload?, skip_actions?}
// into an Event. A missing id or created_ms is filled in; a missing payload
// is an empty object.
func parseRequest(req *structpb.Struct) (eventRequest, error) {
	fields := req.GetFields()
	if len(fields) == 0 {
		return eventRequest{}, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}

	eventType, ok := fields["type"].GetKind().(*structpb.Value_StringValue)
	if !ok || eventType.StringValue == "" {
		return eventRequest{}, fmt.Errorf("%w: type must be a non-empty string", ErrInvalidRequest)
	}

	out := eventRequest{event: types.Event{
		ID:        types.NewEventID(),
		Type:      eventType.StringValue,
		CreatedMs: time.Now().UnixMilli(),
		Payload:   types.Object(nil),
	}}

	if v, present := fields["id"]; present {
		raw, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok || raw.StringValue == "" {
			return eventRequest{}, fmt.Errorf("%w: id must be a non-empty string", ErrInvalidRequest)
		}
		id, err := types.ParseEventID(raw.StringValue)
		if err != nil {
			return eventRequest{}, fmt.Errorf("%w: id must be a UUID: %v", ErrInvalidRequest, err)
		}
		out.event.ID = id
		// a UUIDv7 carries its creation time
		if at := types.EventIDTime(id); !at.IsZero() {
			out.event.CreatedMs = at.UnixMilli()
		}
	}

	if v, present := fields["created_ms"]; present {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) {
			return eventRequest{}, fmt.Errorf("%w: created_ms must be a non-negative integer", ErrInvalidRequest)
		}
		out.event.CreatedMs = int64(n.NumberValue)
	}

	if v, present := fields["skip_actions"]; present {
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return eventRequest{}, fmt.Errorf("%w: skip_actions must be a bool", ErrInvalidRequest)
		}
		out.skipActions = b.BoolValue
	}

	if v, present := fields["payload"]; present {
		if size := proto.Size(v); size > types.MaxPayloadSize {
			return eventRequest{}, fmt.Errorf("%w: %d bytes", types.ErrPayloadTooLarge, size)
		}
		obj, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return eventRequest{}, types.ErrPayloadNotObject
		}
		payload, err := types.FromAny(obj.StructValue.AsMap())
		if err != nil {
			return eventRequest{}, err
		}
		out.event.Payload = payload
	}

	return out, nil
}

// resultToStruct renders the audit trail of a synchronous run.
func resultToStruct(res *pipeline.Result) (*structpb.Struct, error) {
	p := res.Processed

	outcomes := make([]any, 0, len(p.Rules))
	for _, r := range p.Rules {
		o := map[string]any{
			"rule":   r.Rule,
			"status": string(r.Status),
		}
		if r.FailedExtractor != "" {
			o["failed_extractor"] = r.FailedExtractor
		}
		if len(r.Actions) > 0 {
			actions := make([]any, len(r.Actions))
			for i, a := range r.Actions {
				actions[i] = a
			}
			o["actions"] = actions
		}
		outcomes = append(outcomes, o)
	}

	requests := make([]any, 0, len(p.Requests))
	for _, r := range p.Requests {
		req := map[string]any{
			"rule":         r.Rule,
			"action_index": r.ActionIndex,
			"executor_id":  r.ExecutorID,
			"payload":      r.Payload.ToAny(),
		}
		if len(r.Gaps) > 0 {
			gaps := make([]any, len(r.Gaps))
			for i, g := range r.Gaps {
				gaps[i] = g
			}
			req["gaps"] = gaps
		}
		requests = append(requests, req)
	}

	failures := dispatch.Errors(res.DispatchErr)
	dispatchErrors := make([]any, 0, len(failures))
	for _, e := range failures {
		dispatchErrors = append(dispatchErrors, map[string]any{
			"rule":         e.Rule,
			"action_index": e.ActionIndex,
			"executor_id":  e.ExecutorID,
			"error":        e.Err.Error(),
		})
	}

	return structpb.NewStruct(map[string]any{
		"event_id":        string(p.Event.ID),
		"generation":      p.Generation,
		"matched":         stringsToAny(p.Matched()),
		"rules":           outcomes,
		"requests":        requests,
		"dispatch_errors": dispatchErrors,
	})
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
