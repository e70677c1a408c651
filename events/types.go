package events

import (
	"errors"
	"fmt"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	TypeJobStarted       = "job_started"
	TypeHandlerStarted   = "handler_started"
	TypeJobEnded         = "job_ended"
	TypeHandlerEnded     = "handler_ended"
	TypeNodeFailed       = "node_failed"
	TypeNodeTerminated   = "node_terminated"
	TypeSchedulerStopped = "scheduler_stopped"
)

var (
	jobStartedJSON       = []byte(`{"type":"job_started"}`)
	handlerStartedJSON   = []byte(`{"type":"handler_started"}`)
	jobEndedJSON         = []byte(`{"type":"job_ended"}`)
	handlerEndedJSON     = []byte(`{"type":"handler_ended"}`)
	nodeFailedJSON       = []byte(`{"type":"node_failed"}`)
	nodeTerminatedJSON   = []byte(`{"type":"node_terminated"}`)
	schedulerStoppedJSON = []byte(`{"type":"scheduler_stopped"}`)
)

type Event interface {
	strixEvent()
	EventType() string
}

// Header is shared by every event.
type Header struct {
	RunID     uuid.UUID       `json:"run_id"`
	Scheduler string          `json:"scheduler"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (h Header) marshal(result []byte) ([]byte, error) {
	var err error
	result, err = sjson.SetBytes(result, "run_id", h.RunID.String())
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "scheduler", h.Scheduler)
	if err != nil {
		return nil, err
	}
	if !h.Timestamp.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", h.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (h *Header) unmarshal(data []byte, typ string) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != typ {
		return fmt.Errorf("missing or invalid type, expected '%s'", typ)
	}

	runID := gjson.GetBytes(data, "run_id")
	if !runID.Exists() {
		return fmt.Errorf("missing required field 'run_id'")
	}
	if err := h.RunID.UnmarshalText([]byte(runID.String())); err != nil {
		return fmt.Errorf("invalid run_id: %w", err)
	}

	scheduler := gjson.GetBytes(data, "scheduler")
	if !scheduler.Exists() {
		return fmt.Errorf("missing required field 'scheduler'")
	}
	h.Scheduler = scheduler.String()

	if timestamp := gjson.GetBytes(data, "timestamp"); timestamp.Exists() {
		if err := h.Timestamp.UnmarshalText([]byte(timestamp.String())); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return nil
}

// NodeRef identifies the node an event is about.
type NodeRef struct {
	NodeID   string `json:"node_id"`
	NodeKind string `json:"node_kind"`
}

func (n NodeRef) marshal(result []byte) ([]byte, error) {
	result, err := sjson.SetBytes(result, "node_id", n.NodeID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "node_kind", n.NodeKind)
}

func (n *NodeRef) unmarshal(data []byte) error {
	nodeID := gjson.GetBytes(data, "node_id")
	if !nodeID.Exists() {
		return fmt.Errorf("missing required field 'node_id'")
	}
	n.NodeID = nodeID.String()
	n.NodeKind = gjson.GetBytes(data, "node_kind").String()
	return nil
}

func stateField(data []byte) (string, error) {
	state := gjson.GetBytes(data, "state")
	if !state.Exists() {
		return "", fmt.Errorf("missing required field 'state'")
	}
	return state.String(), nil
}

type JobStarted struct {
	Header
	NodeRef
}

func (JobStarted) strixEvent()         {}
func (JobStarted) EventType() string { return TypeJobStarted }

func (e JobStarted) MarshalJSON() ([]byte, error) {
	result, err := e.Header.marshal(jobStartedJSON)
	if err != nil {
		return nil, err
	}
	return e.NodeRef.marshal(result)
}

func (e *JobStarted) UnmarshalJSON(data []byte) error {
	if err := e.Header.unmarshal(data, TypeJobStarted); err != nil {
		return err
	}
	return e.NodeRef.unmarshal(data)
}

type HandlerStarted struct {
	Header
	NodeRef
}

func (HandlerStarted) strixEvent()         {}
func (HandlerStarted) EventType() string { return TypeHandlerStarted }

func (e HandlerStarted) MarshalJSON() ([]byte, error) {
	result, err := e.Header.marshal(handlerStartedJSON)
	if err != nil {
		return nil, err
	}
	return e.NodeRef.marshal(result)
}

func (e *HandlerStarted) UnmarshalJSON(data []byte) error {
	if err := e.Header.unmarshal(data, TypeHandlerStarted); err != nil {
		return err
	}
	return e.NodeRef.unmarshal(data)
}

type JobEnded struct {
	Header
	NodeRef
	State string `json:"state"`
}

func (JobEnded) strixEvent()         {}
func (JobEnded) EventType() string { return TypeJobEnded }

func (e JobEnded) MarshalJSON() ([]byte, error) {
	result, err := e.Header.marshal(jobEndedJSON)
	if err != nil {
		return nil, err
	}
	if result, err = e.NodeRef.marshal(result); err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "state", e.State)
}

func (e *JobEnded) UnmarshalJSON(data []byte) error {
	if err := e.Header.unmarshal(data, TypeJobEnded); err != nil {
		return err
	}
	if err := e.NodeRef.unmarshal(data); err != nil {
		return err
	}
	state, err := stateField(data)
	if err != nil {
		return err
	}
	e.State = state
	return nil
}

type HandlerEnded struct {
	Header
	NodeRef
	State string `json:"state"`
}

func (HandlerEnded) strixEvent()         {}
func (HandlerEnded) EventType() string { return TypeHandlerEnded }

func (e HandlerEnded) MarshalJSON() ([]byte, error) {
	result, err := e.Header.marshal(handlerEndedJSON)
	if err != nil {
		return nil, err
	}
	if result, err = e.NodeRef.marshal(result); err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "state", e.State)
}

func (e *HandlerEnded) UnmarshalJSON(data []byte) error {
	if err := e.Header.unmarshal(data, TypeHandlerEnded); err != nil {
		return err
	}
	if err := e.NodeRef.unmarshal(data); err != nil {
		return err
	}
	state, err := stateField(data)
	if err != nil {
		return err
	}
	e.State = state
	return nil
}

type NodeFailed struct {
	Header
	NodeRef
	Err error `json:"error"`
}

func (NodeFailed) strixEvent()         {}
func (NodeFailed) EventType() string { return TypeNodeFailed }

func (e NodeFailed) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("node %s failed (run %s)", e.NodeID, e.RunID)
	}
	return fmt.Sprintf("node %s failed (run %s): %v", e.NodeID, e.RunID, e.Err)
}

func (e NodeFailed) Unwrap() error { return e.Err }

func (e NodeFailed) MarshalJSON() ([]byte, error) {
	result, err := e.Header.marshal(nodeFailedJSON)
	if err != nil {
		return nil, err
	}
	if result, err = e.NodeRef.marshal(result); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return sjson.SetBytes(result, "error", e.Err.Error())
	}
	return result, nil
}

func (e *NodeFailed) UnmarshalJSON(data []byte) error {
	if err := e.Header.unmarshal(data, TypeNodeFailed); err != nil {
		return err
	}
	if err := e.NodeRef.unmarshal(data); err != nil {
		return err
	}
	errField := gjson.GetBytes(data, "error")
	if !errField.Exists() {
		return fmt.Errorf("missing required field 'error'")
	}
	e.Err = errors.New(errField.String())
	return nil
}

type NodeTerminated struct {
	Header
	NodeRef
}

func (NodeTerminated) strixEvent()         {}
func (NodeTerminated) EventType() string { return TypeNodeTerminated }

func (e NodeTerminated) MarshalJSON() ([]byte, error) {
	result, err := e.Header.marshal(nodeTerminatedJSON)
	if err != nil {
		return nil, err
	}
	return e.NodeRef.marshal(result)
}

func (e *NodeTerminated) UnmarshalJSON(data []byte) error {
	if err := e.Header.unmarshal(data, TypeNodeTerminated); err != nil {
		return err
	}
	return e.NodeRef.unmarshal(data)
}

type SchedulerStopped struct {
	Header
	// Result is the exit result as JSON. It does not exist when the run ended without one.
	Result gjson.Result `json:"result,omitempty"`
}

func (SchedulerStopped) strixEvent()         {}
func (SchedulerStopped) EventType() string { return TypeSchedulerStopped }

// ResultJSON encodes an exit result for SchedulerStopped. Values that cannot be
// encoded are recorded by their default format.
func ResultJSON(v any) gjson.Result {
	if v == nil {
		return gjson.Result{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprint(v))
	}
	return gjson.ParseBytes(b)
}

func (e SchedulerStopped) MarshalJSON() ([]byte, error) {
	result, err := e.Header.marshal(schedulerStoppedJSON)
	if err != nil {
		return nil, err
	}
	if e.Result.Exists() {
		return sjson.SetRawBytes(result, "result", []byte(e.Result.Raw))
	}
	return result, nil
}

func (e *SchedulerStopped) UnmarshalJSON(data []byte) error {
	if err := e.Header.unmarshal(data, TypeSchedulerStopped); err != nil {
		return err
	}
	if res := gjson.GetBytes(data, "result"); res.Exists() {
		e.Result = res
	}
	return nil
}

// ToJSON encodes any event.
func ToJSON(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("event is required")
	}
	return json.Marshal(e)
}

// FromJSON decodes an event by its type marker.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	var (
		event Event
		err   error
	)
	switch typ.String() {
	case TypeJobStarted:
		var e JobStarted
		err = e.UnmarshalJSON(data)
		event = e
	case TypeHandlerStarted:
		var e HandlerStarted
		err = e.UnmarshalJSON(data)
		event = e
	case TypeJobEnded:
		var e JobEnded
		err = e.UnmarshalJSON(data)
		event = e
	case TypeHandlerEnded:
		var e HandlerEnded
		err = e.UnmarshalJSON(data)
		event = e
	case TypeNodeFailed:
		var e NodeFailed
		err = e.UnmarshalJSON(data)
		event = e
	case TypeNodeTerminated:
		var e NodeTerminated
		err = e.UnmarshalJSON(data)
		event = e
	case TypeSchedulerStopped:
		var e SchedulerStopped
		err = e.UnmarshalJSON(data)
		event = e
	default:
		return nil, fmt.Errorf("unknown event type %q", typ.String())
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}
