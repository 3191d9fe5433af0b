package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Tag identifies which NetMessage variant a frame carries.
type Tag uint8

const (
	TagHello Tag = iota + 1
	TagHelloAck
	TagListDir
	TagListDirResponse
	TagGetAttr
	TagGetAttrResponse
	TagLookup
	TagLookupResponse
	TagReadChunk
	TagReadChunkResponse
	TagWriteChunk
	TagWriteChunkResponse
	TagAcquireLock
	TagLockResponse
	TagReleaseLock
	TagReleaseLockResponse
	TagPing
	TagPong
	TagError
	TagGoodbye
	TagInvalidate
)

// Message is implemented by every NetMessage variant.
type Message interface {
	Tag() Tag
	marshal(w *writer)
	unmarshal(r *reader) error
}

// Frame is one request or response travelling on a stream: an envelope ID
// used to match an async reply to the call that issued it, plus the
// message itself. The ID is not part of spec.md's wire format proper (it
// sits inside the payload, after the discriminator tag byte) but is
// needed because a single connection multiplexes many in-flight calls
// across its stream pool.
type Frame struct {
	RequestID uint64
	Message   Message
}

// Encode writes length-prefixed frame to w: u32le length, tag byte,
// request id, then the message body.
func Encode(w io.Writer, f Frame) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(f.Message.Tag()))
	ww := &writer{buf: &buf}
	ww.u64(f.RequestID)
	f.Message.marshal(ww)
	if ww.err != nil {
		return ww.err
	}
	body := buf.Bytes()
	if len(body) > MaxFrameSize {
		return NewError(ErrProtocolError, "message too large: %d bytes (max %d)", len(body), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Decode reads one length-prefixed frame from r.
func Decode(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return Frame{}, NewError(ErrProtocolError, "message too large: %d bytes (max %d)", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	if len(body) < 1 {
		return Frame{}, NewError(ErrProtocolError, "empty frame")
	}
	tag := Tag(body[0])
	rr := &reader{buf: body[1:]}
	reqID := rr.u64()
	msg, err := newMessage(tag)
	if err != nil {
		return Frame{}, err
	}
	if err := msg.unmarshal(rr); err != nil {
		return Frame{}, err
	}
	if rr.err != nil {
		return Frame{}, rr.err
	}
	return Frame{RequestID: reqID, Message: msg}, nil
}

func newMessage(t Tag) (Message, error) {
	switch t {
	case TagHello:
		return &Hello{}, nil
	case TagHelloAck:
		return &HelloAck{}, nil
	case TagListDir:
		return &ListDir{}, nil
	case TagListDirResponse:
		return &ListDirResponse{}, nil
	case TagGetAttr:
		return &GetAttr{}, nil
	case TagGetAttrResponse:
		return &GetAttrResponse{}, nil
	case TagLookup:
		return &Lookup{}, nil
	case TagLookupResponse:
		return &LookupResponse{}, nil
	case TagReadChunk:
		return &ReadChunk{}, nil
	case TagReadChunkResponse:
		return &ReadChunkResponse{}, nil
	case TagWriteChunk:
		return &WriteChunk{}, nil
	case TagWriteChunkResponse:
		return &WriteChunkResponse{}, nil
	case TagAcquireLock:
		return &AcquireLock{}, nil
	case TagLockResponse:
		return &LockResponse{}, nil
	case TagReleaseLock:
		return &ReleaseLock{}, nil
	case TagReleaseLockResponse:
		return &ReleaseLockResponse{}, nil
	case TagPing:
		return &Ping{}, nil
	case TagPong:
		return &Pong{}, nil
	case TagError:
		return &ErrorMessage{}, nil
	case TagGoodbye:
		return &Goodbye{}, nil
	case TagInvalidate:
		return &Invalidate{}, nil
	default:
		return nil, NewError(ErrProtocolError, "invalid message type: %d", t)
	}
}

// writer appends primitive fields to an in-memory buffer, latching the
// first error it sees so callers can check once at the end.
type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) u8(v uint8) { w.buf.WriteByte(v) }
func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}
func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
func (w *writer) i64(v int64) { w.u64(uint64(v)) }
func (w *writer) bytesField(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}
func (w *writer) str(s string)   { w.bytesField([]byte(s)) }
func (w *writer) fixed(b []byte) { w.buf.Write(b) }
func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// reader pulls primitive fields off a byte slice, tracking a short-read
// error so unmarshal bodies can be written without per-field checks.
type reader struct {
	buf []byte
	err error
}

func (r *reader) need(n int) []byte {
	if r.err != nil || len(r.buf) < n {
		if r.err == nil {
			r.err = fmt.Errorf("short frame: need %d bytes, have %d", n, len(r.buf))
		}
		return make([]byte, n)
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() uint8   { return r.need(1)[0] }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.need(4)) }
func (r *reader) u64() uint64 { return binary.LittleEndian.Uint64(r.need(8)) }
func (r *reader) i64() int64  { return int64(r.u64()) }
func (r *reader) bytesField() []byte {
	n := r.u32()
	b := r.need(int(n))
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
func (r *reader) str() string { return string(r.bytesField()) }
func (r *reader) fixed(n int) []byte {
	b := r.need(n)
	out := make([]byte, n)
	copy(out, b)
	return out
}
func (r *reader) boolean() bool { return r.u8() != 0 }
