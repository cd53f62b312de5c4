// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Frame types carried in the header msg_type field.
const (
	MsgRequest  = 1
	MsgResponse = 2
)

// HeaderSize is the fixed size of the frame header:
// type u8, 3 bytes padding, payload length u32 little-endian.
const HeaderSize = 8

// MaxPayload is the maximum CBOR payload per frame.
const MaxPayload = 64 * 1024

// Wire operations.
const (
	OpSet    = "set"
	OpStatus = "status"
)

// Header is the decoded frame header.
type Header struct {
	MsgType    uint8
	PayloadLen uint32
}

// Request is one control command as sent by the client.
type Request struct {
	ID    string   `cbor:"id"`
	Op    string   `cbor:"op"`
	Set   string   `cbor:"set"`
	Args  []string `cbor:"args,omitempty"`
	Token string   `cbor:"token,omitempty"`
}

// Response carries the result code and status payload back to the client.
// Code is 0 on success or a negated errno.
type Response struct {
	ID        string `cbor:"id"`
	Code      int32  `cbor:"code"`
	Value     bool   `cbor:"value"`
	Changed   bool   `cbor:"changed,omitempty"`
	Installed int    `cbor:"installed,omitempty"`
	Declared  int    `cbor:"declared,omitempty"`
	Active    string `cbor:"active,omitempty"`
	Message   string `cbor:"msg,omitempty"`
}

// Degraded reports an active set with fewer syscalls hooked than declared.
func (r *Response) Degraded() bool {
	return r.Code == 0 && r.Value && r.Installed < r.Declared
}

// Err returns the remote error for a non-zero code, or nil.
func (r *Response) Err() error {
	if r.Code == 0 {
		return nil
	}
	return &RemoteError{Code: r.Code, Message: r.Message}
}

// MsgTypeName returns a human-readable name for a frame type.
func MsgTypeName(t uint8) string {
	switch t {
	case MsgRequest:
		return "REQUEST"
	case MsgResponse:
		return "RESPONSE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// ParseHeader decodes an 8-byte frame header.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("buffer too small: %d < %d", len(buf), HeaderSize)
	}
	return Header{
		MsgType:    buf[0],
		PayloadLen: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// PutHeader encodes h into buf, which must be at least HeaderSize long.
func PutHeader(buf []byte, h Header) {
	buf[0] = h.MsgType
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(buf[4:8], h.PayloadLen)
}

// WriteFrame encodes v as CBOR and writes it as a single frame.
func WriteFrame(w io.Writer, msgType uint8, v any) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", MsgTypeName(msgType), err)
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	PutHeader(buf, Header{MsgType: msgType, PayloadLen: uint32(len(payload))})
	copy(buf[HeaderSize:], payload)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame of type want and decodes its payload into v.
// io.EOF is returned unwrapped when the peer closes between frames.
func ReadFrame(r io.Reader, want uint8, v any) error {
	var hbuf [HeaderSize]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return err
	}
	hdr, err := ParseHeader(hbuf[:])
	if err != nil {
		return err
	}
	if hdr.MsgType != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, MsgTypeName(hdr.MsgType), MsgTypeName(want))
	}
	if hdr.PayloadLen > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, hdr.PayloadLen)
	}
	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("payload truncated: %w", err)
	}
	if err := cbor.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", MsgTypeName(hdr.MsgType), err)
	}
	return nil
}
