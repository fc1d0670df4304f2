package rdnstap

import (
	"encoding/binary"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// Encoder serializes events into frames. It holds the identity and version that
// are added to every envelope and is safe for concurrent use once built.
type Encoder struct {
	identity []byte
	version  []byte

	// Clock used for query and response times of client events
	now func() time.Time
}

// NewEncoder returns an encoder that stamps envelopes with identity and version.
// Empty values are left out of the envelope.
func NewEncoder(identity, version string) *Encoder {
	e := &Encoder{now: time.Now}
	if identity != "" {
		e.identity = []byte(identity)
	}
	if version != "" {
		e.version = []byte(version)
	}
	return e
}

// Encode builds the envelope for an event and serializes it into a frame.
func (e *Encoder) Encode(ev Event) (Frame, error) {
	m := &dnstap.Message{Type: ev.Type().dnstap().Enum()}
	ev.fill(m)
	d := &dnstap.Dnstap{
		Type:     dnstap.Dnstap_MESSAGE.Enum(),
		Identity: e.identity,
		Version:  e.version,
		Message:  m,
	}

	// Reserve room for the length and serialize behind it
	buf := make([]byte, frameHeaderLen, initialBufferSize)
	buf, err := proto.MarshalOptions{}.MarshalAppend(buf, d)
	if err != nil {
		return Frame{}, &EncodingError{Type: ev.Type(), Err: err}
	}
	size := len(buf) - frameHeaderLen
	if size > MaxPayloadSize {
		return Frame{}, &EncodingError{
			Type: ev.Type(),
			Err:  errors.Errorf("envelope of %d bytes exceeds maximum frame size", size),
		}
	}
	binary.BigEndian.PutUint16(buf, uint16(size))
	return Frame{b: buf}, nil
}
