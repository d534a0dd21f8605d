// Package message defines the envelope exchanged between two RPC endpoints.
//
// An Envelope is the only thing a transport ever sees. It is tagged so that
// several protocols can share one physical channel, and typed so the receiving
// engine knows whether it carries a call (RequestPayload) or the outcome of one
// (ResponsePayload).
//
//	caller engine                               callee engine
//	  Envelope{Tag:"rpc", Kind:request,  Request:{ID, Procedure, Argument}}  ──►
//	  ◄──  Envelope{Tag:"rpc", Kind:response, Response:{ID, Outcome, Value|Error}}
package message

import (
	"time"
)

// DefaultTag marks envelopes that belong to this protocol.
const DefaultTag = "rpc"

// Kind distinguishes request envelopes from response envelopes.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Valid reports whether k is one of the two known kinds.
func (k Kind) Valid() bool {
	return k == KindRequest || k == KindResponse
}

// Outcome is the state carried by a response.
type Outcome string

const (
	OutcomePending   Outcome = "pending" // Construction state only, never sent
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeRejected  Outcome = "rejected"
)

// Settled reports whether o is a terminal outcome that may appear on the wire.
func (o Outcome) Settled() bool {
	return o == OutcomeFulfilled || o == OutcomeRejected
}

// Envelope is the unit handed to a transport.
//
// Exactly one of Request / Response is set, matching Kind.
type Envelope struct {
	Tag      string           `json:"tag"`
	Kind     Kind             `json:"kind"`
	Request  *RequestPayload  `json:"request,omitempty"`
	Response *ResponsePayload `json:"response,omitempty"`
}

// RequestPayload describes one call.
type RequestPayload struct {
	ID        string    `json:"id"`        // Correlation id, echoed by the response
	Procedure string    `json:"procedure"` // Target procedure name
	Argument  any       `json:"argument,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"` // Informational only
}

// ResponsePayload carries the outcome of one call.
type ResponsePayload struct {
	ID        string       `json:"id"`
	Procedure string       `json:"procedure"` // Diagnostic only
	Outcome   Outcome      `json:"outcome"`
	Value     any          `json:"value,omitempty"`
	Error     *RemoteError `json:"error,omitempty"`
}

// NewRequest wraps a request payload in an envelope tagged with tag.
func NewRequest(tag string, req *RequestPayload) *Envelope {
	return &Envelope{Tag: tag, Kind: KindRequest, Request: req}
}

// NewResponse wraps a response payload in an envelope tagged with tag.
func NewResponse(tag string, resp *ResponsePayload) *Envelope {
	return &Envelope{Tag: tag, Kind: KindResponse, Response: resp}
}

// PendingResponse starts a response for req in the pending state.
// The request handler moves it to fulfilled or rejected before sending.
func PendingResponse(req *RequestPayload) *ResponsePayload {
	return &ResponsePayload{
		ID:        req.ID,
		Procedure: req.Procedure,
		Outcome:   OutcomePending,
	}
}

// Fulfill settles r with value.
func (r *ResponsePayload) Fulfill(value any) {
	r.Outcome = OutcomeFulfilled
	r.Value = value
	r.Error = nil
}

// Reject settles r with err.
func (r *ResponsePayload) Reject(err *RemoteError) {
	r.Outcome = OutcomeRejected
	r.Value = nil
	r.Error = err
}
