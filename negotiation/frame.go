package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrMissingHeader = errors.New("missing header")
	ErrBadStatus     = errors.New("bad status")
)

// Family groups status codes: OK for success, SE for sender errors such as
// a declined request, RE for receiver errors such as a frame that can't be
// read.
type Family byte

const (
	FamilyOK Family = iota
	FamilySE
	FamilyRE
)

var familyNames = map[Family]string{FamilyOK: "OK", FamilySE: "SE", FamilyRE: "RE"}

// Status is the outcome carried by every response.
type Status struct {
	Family Family
	Code   uint8
}

func OK(code uint8) Status { return Status{Family: FamilyOK, Code: code} }
func SE(code uint8) Status { return Status{Family: FamilySE, Code: code} }
func RE(code uint8) Status { return Status{Family: FamilyRE, Code: code} }

var (
	// StatusMalformed answers frames whose request can't be decoded.
	StatusMalformed = RE(0)
	// StatusUnknownMethod answers requests nobody handles.
	StatusUnknownMethod = RE(1)
)

func (s Status) IsOK() bool {
	return s.Family == FamilyOK
}

// String formats the status as family and two digit code, e.g. OK20.
func (s Status) String() string {
	return fmt.Sprintf("%s%02d", familyNames[s.Family], s.Code)
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := familyNames[s.Family]; !ok {
		return nil, fmt.Errorf("%w: family %d", ErrBadStatus, s.Family)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseStatus(s string) (Status, error) {
	if len(s) < 3 {
		return Status{}, fmt.Errorf("%w: %q", ErrBadStatus, s)
	}
	for family, name := range familyNames {
		if s[:2] != name {
			continue
		}
		code, err := strconv.ParseUint(s[2:], 10, 8)
		if err != nil {
			return Status{}, fmt.Errorf("%w: %q", ErrBadStatus, s)
		}
		return Status{Family: family, Code: uint8(code)}, nil
	}
	return Status{}, fmt.Errorf("%w: %q", ErrBadStatus, s)
}

// Headers are named JSON values.
type Headers map[string]json.RawMessage

// Set encodes v under name.
func (h Headers) Set(name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode header %s: %w", name, err)
	}
	h[name] = raw
	return nil
}

// Get decodes the header name into v.
func (h Headers) Get(name string, v interface{}) error {
	raw, ok := h[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingHeader, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode header %s: %w", name, err)
	}
	return nil
}

// Request names a method and carries headers and an opaque JSON body.
type Request struct {
	Method  string          `json:"method"`
	Headers Headers         `json:"headers"`
	Body    json.RawMessage `json:"body,omitempty"`
}

func NewRequest(method string) Request {
	return Request{Method: method, Headers: make(Headers)}
}

// SetBody encodes v as the request body.
func (r *Request) SetBody(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	r.Body = raw
	return nil
}

// Response answers one Request.
type Response struct {
	Status  Status          `json:"status"`
	Headers Headers         `json:"headers,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

func NewResponse(status Status) Response {
	return Response{Status: status, Headers: make(Headers)}
}

func (r *Response) SetBody(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	r.Body = raw
	return nil
}

// FrameType tells requests and responses apart on the wire.
type FrameType string

const (
	FrameRequest  FrameType = "REQUEST"
	FrameResponse FrameType = "RESPONSE"
)

// Frame is the envelope of every datagram. A response reuses the id of the
// request it answers.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint32          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func newFrame(typ FrameType, id uint32, payload interface{}) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	return Frame{Type: typ, ID: id, Payload: raw}, nil
}
