package daq

import (
	"encoding/json"
	"fmt"
)

// MessageKind tags a message envelope with the schema of its body.
type MessageKind string

const (
	// KindControlOperation is a transition command bound for one module.
	KindControlOperation MessageKind = "ControlOperation"

	// KindControlOpResponse is a module's reply to a transition command.
	KindControlOpResponse MessageKind = "ControlOpResponse"

	// KindControlStatus is a module status record from a poll envoy.
	KindControlStatus MessageKind = "ControlStatus"

	// KindMonitorReport is a disk monitor snapshot.
	KindMonitorReport MessageKind = "MonitorReport"
)

// String returns the kind name.
func (k MessageKind) String() string { return string(k) }

// IsCommand reports whether messages of this kind flow controller -> envoy.
func (k MessageKind) IsCommand() bool { return k == KindControlOperation }

// Message is the envelope exchanged between envoys and the controller. The
// body schema is determined entirely by the kind; decoding into a concrete
// record fails if the kinds do not match.
type Message struct {
	Kind     MessageKind `json:"kind"`
	ModuleID ModuleID    `json:"module_id"`
	Body     []byte      `json:"body"`
}

// String describes the envelope for logs.
func (m Message) String() string {
	return fmt.Sprintf("message from module %d of kind %s", m.ModuleID, m.Kind)
}

// KindMismatchError is returned when a message is decoded as the wrong kind.
type KindMismatchError struct {
	Want MessageKind
	Got  MessageKind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("expected %s message, received %s message", e.Want, e.Got)
}

func compose(kind MessageKind, id ModuleID, body any) Message {
	raw, err := json.Marshal(body)
	if err != nil {
		// Every body type is a plain struct of scalar fields; this can only
		// trip on a programming error.
		panic(fmt.Sprintf("marshaling %s message body: %v", kind, err))
	}
	return Message{Kind: kind, ModuleID: id, Body: raw}
}

func decode[T any](m Message, want MessageKind) (T, error) {
	var out T
	if m.Kind != want {
		return out, &KindMismatchError{Want: want, Got: m.Kind}
	}
	if err := json.Unmarshal(m.Body, &out); err != nil {
		return out, fmt.Errorf("decoding %s message body: %w", m.Kind, err)
	}
	return out, nil
}

// NewOperationMessage wraps a transition command for the given module.
func NewOperationMessage(op ControlOperation, id ModuleID) Message {
	return compose(KindControlOperation, id, OperationRequest{Operation: op})
}

// NewOperationResultMessage wraps a module's transition reply.
func NewOperationResultMessage(result OperationResult, id ModuleID) Message {
	return compose(KindControlOpResponse, id, result)
}

// NewStatusMessage wraps a module status record.
func NewStatusMessage(status ModuleStatus, id ModuleID) Message {
	return compose(KindControlStatus, id, status)
}

// NewMonitorMessage wraps a disk monitor snapshot.
func NewMonitorMessage(snapshot MonitorSnapshot, id ModuleID) Message {
	return compose(KindMonitorReport, id, snapshot)
}

// AsOperation decodes the envelope as a transition command.
func (m Message) AsOperation() (OperationRequest, error) {
	return decode[OperationRequest](m, KindControlOperation)
}

// AsOperationResult decodes the envelope as a transition reply.
func (m Message) AsOperationResult() (OperationResult, error) {
	return decode[OperationResult](m, KindControlOpResponse)
}

// AsModuleStatus decodes the envelope as a module status record.
func (m Message) AsModuleStatus() (ModuleStatus, error) {
	return decode[ModuleStatus](m, KindControlStatus)
}

// AsMonitorSnapshot decodes the envelope as a monitor snapshot.
func (m Message) AsMonitorSnapshot() (MonitorSnapshot, error) {
	return decode[MonitorSnapshot](m, KindMonitorReport)
}
