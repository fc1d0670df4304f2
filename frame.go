package rdnstap

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	framestream "github.com/farsightsec/golang-framestream"
)

const (
	// Size of the big-endian length field in front of every frame
	frameHeaderLen = 2

	// Initial capacity of the serialization buffer
	initialBufferSize = 256

	// MaxPayloadSize is the largest envelope that fits into a frame.
	MaxPayloadSize = math.MaxUint16
)

// Content type announced on Frame Streams connections.
var dnstapContentType = []byte("protobuf:dnstap.Dnstap")

// Frame is a serialized envelope prefixed by its 2-byte big-endian length. A
// frame has exactly one owner at a time, it's handed from the encoder to the
// queue and then to the dispatcher.
type Frame struct {
	b []byte
}

// Bytes returns the frame as written on the wire, including the length prefix.
func (f Frame) Bytes() []byte { return f.b }

// Payload returns the serialized envelope without the length prefix.
func (f Frame) Payload() []byte {
	if len(f.b) < frameHeaderLen {
		return nil
	}
	return f.b[frameHeaderLen:]
}

// Len returns the number of bytes of the frame on the wire.
func (f Frame) Len() int { return len(f.b) }

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	b := make([]byte, frameHeaderLen+n)
	copy(b, hdr[:])
	if _, err := io.ReadFull(r, b[frameHeaderLen:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{b: b}, nil
}

// Format is the framing used on the collector connection.
type Format int

const (
	// FormatLength16 sends every envelope with a 2-byte big-endian length prefix.
	FormatLength16 Format = iota

	// FormatFrameStream uses unidirectional Frame Streams with the dnstap
	// content type.
	FormatFrameStream
)

// ParseFormat returns the Format for its configuration name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "length16":
		return FormatLength16, nil
	case "fstrm", "framestream":
		return FormatFrameStream, nil
	}
	return 0, fmt.Errorf("unsupported frame format '%s'", s)
}

func (f Format) String() string {
	switch f {
	case FormatLength16:
		return "length16"
	case FormatFrameStream:
		return "fstrm"
	}
	return "unknown"
}

// Writes frames to a collector connection.
type frameWriter interface {
	WriteFrame(Frame) error
	Close() error
}

func newFrameWriter(format Format, w io.Writer) (frameWriter, error) {
	switch format {
	case FormatLength16:
		return length16Writer{w}, nil
	case FormatFrameStream:
		enc, err := framestream.NewEncoder(w, &framestream.EncoderOptions{
			ContentType: dnstapContentType,
		})
		if err != nil {
			return nil, err
		}
		return &fstrmWriter{enc: enc}, nil
	}
	return nil, fmt.Errorf("unsupported frame format %d", format)
}

type length16Writer struct {
	w io.Writer
}

func (w length16Writer) WriteFrame(f Frame) error {
	_, err := w.w.Write(f.Bytes())
	return err
}

func (w length16Writer) Close() error { return nil }

type fstrmWriter struct {
	enc *framestream.Encoder
}

// WriteFrame sends the payload as one data frame. The encoder is buffered so it's
// flushed after every frame to surface write errors on the frame that caused them.
func (w *fstrmWriter) WriteFrame(f Frame) error {
	if _, err := w.enc.Write(f.Payload()); err != nil {
		return err
	}
	return w.enc.Flush()
}

// Close sends the stop control frame.
func (w *fstrmWriter) Close() error {
	return w.enc.Close()
}

// Reads envelope payloads from a collector connection.
type frameReader interface {
	ReadPayload() ([]byte, error)
}

func newFrameReader(format Format, r io.Reader) (frameReader, error) {
	switch format {
	case FormatLength16:
		return length16Reader{r}, nil
	case FormatFrameStream:
		dec, err := framestream.NewDecoder(r, &framestream.DecoderOptions{
			ContentType: dnstapContentType,
		})
		if err != nil {
			return nil, err
		}
		return fstrmReader{dec}, nil
	}
	return nil, fmt.Errorf("unsupported frame format %d", format)
}

type length16Reader struct {
	r io.Reader
}

func (r length16Reader) ReadPayload() ([]byte, error) {
	f, err := ReadFrame(r.r)
	if err != nil {
		return nil, err
	}
	return f.Payload(), nil
}

type fstrmReader struct {
	dec *framestream.Decoder
}

func (r fstrmReader) ReadPayload() ([]byte, error) {
	return r.dec.Decode()
}
