// Package wireserver provides the TCP peer protocol for ClipMesh.
//
// Peers speak newline-delimited JSON envelopes over a single long-lived
// connection. A request envelope carries an id and is answered with one
// ack or err envelope bearing the same id; event envelopes are unsolicited
// server pushes and carry no id. Payload content inside envelopes is
// opaque to the server and relayed as received.
package wireserver

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol limits. A chunked file payload is base64 text of a 64KiB chunk
// plus envelope overhead, so the line limit leaves generous headroom.
const (
	// MaxLineBytes is the hard cap on one envelope line.
	MaxLineBytes = 1 << 20 // 1MiB

	// MaxTypeLength bounds the envelope type tag.
	MaxTypeLength = 64
)

// ErrLimitExceeded is returned when a peer violates a protocol limit.
var ErrLimitExceeded = errors.New("protocol limit exceeded")

// Request envelope types accepted from peers.
const (
	TypeSessionCheck  = "session:check"
	TypeSessionCreate = "session:create"
	TypeSessionJoin   = "session:join"
	TypeSessionLeave  = "session:leave"
	TypeVerifyRequest = "verify:request"
	TypeVerifySubmit  = "verify:submit"
	TypeClipUpdate    = "clipboard:update"
	TypeClipGet       = "clipboard:get"
	TypeFileBroadcast = "file:broadcast"
	TypeFileMetadata  = "file:metadata"
	TypeFileChunk     = "file:chunk"
	TypePong          = "pong"
)

// Reply envelope types.
const (
	TypeAck   = "ack"
	TypeError = "err"
)

// Envelope is one protocol message.
type Envelope struct {
	Type string          `json:"t"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// ErrorBody is the data of an err envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReadEnvelope reads one newline-delimited envelope. Lines longer than
// MaxLineBytes fail with ErrLimitExceeded; the caller should close the
// connection on that.
func ReadEnvelope(br *bufio.Reader) (*Envelope, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("envelope missing type")
	}
	if len(env.Type) > MaxTypeLength {
		return nil, ErrLimitExceeded
	}
	return &env, nil
}

// readLine reads up to and including the next newline, enforcing the line
// limit across continuation fragments.
func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, err
		}
		if len(line)+len(frag) > MaxLineBytes {
			return nil, ErrLimitExceeded
		}
		line = append(line, frag...)
		if !isPrefix {
			return line, nil
		}
	}
}

// WriteEnvelope writes one envelope followed by a newline. The caller owns
// deadlines and flushing.
func WriteEnvelope(bw *bufio.Writer, env *Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := bw.Write(raw); err != nil {
		return err
	}
	return bw.WriteByte('\n')
}

// NewAck builds an ack envelope answering the given request id.
func NewAck(id string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeAck, ID: id, Data: raw}, nil
}

// NewError builds an err envelope answering the given request id.
func NewError(id, code, message string) *Envelope {
	raw, _ := json.Marshal(ErrorBody{Code: code, Message: message})
	return &Envelope{Type: TypeError, ID: id, Data: raw}
}

// NewEvent builds an unsolicited event envelope.
func NewEvent(event string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: event, Data: raw}, nil
}
