/*
Copyright © 2021 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package rpc implements the client RPC server: a
// length-prefixed CBOR wire protocol over a local Unix socket, letting an
// external UI/CLI observe devices and drive selection.
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameSize bounds a single CBOR frame so a hostile or buggy peer
// can't make the server allocate an unbounded buffer.
const maxFrameSize = 1 << 20

// RequestType discriminates the Request wire variants.
type RequestType string

const (
	ReqPing             RequestType = "ping"
	ReqStartStreaming   RequestType = "start_streaming"
	ReqStopStreaming    RequestType = "stop_streaming"
	ReqListBlockDevices RequestType = "list_block_devices"
	ReqUserIsPresent    RequestType = "user_is_present"
	ReqBoot             RequestType = "boot"
	ReqReboot           RequestType = "reboot"
	ReqPoweroff         RequestType = "poweroff"
)

// Request is the wire envelope for every client→server message.
type Request struct {
	Type    RequestType `cbor:"type"`
	EntryID string      `cbor:"entry_id,omitempty"`
}

// ResponseType discriminates the Response wire variants.
type ResponseType string

const (
	RespPong             ResponseType = "pong"
	RespServerDone       ResponseType = "server_done"
	RespServerError      ResponseType = "server_error"
	RespListBlockDevices ResponseType = "list_block_devices"
	RespNewDevice        ResponseType = "new_device"
	RespTimeLeft         ResponseType = "time_left"
)

// ServerErrorKind mirrors coordinator.ServerErrorKind on the wire.
type ServerErrorKind string

const (
	ServerErrorUnknown          ServerErrorKind = "unknown"
	ServerErrorValidationFailed ServerErrorKind = "validation_failed"
)

// Device is the wire representation of coordinator.Device.
type Device struct {
	Name        string      `cbor:"name"`
	Mountpoint  string      `cbor:"mountpoint"`
	BootEntries []BootEntry `cbor:"boot_entries"`
	TimeoutMs   int64       `cbor:"timeout_ms"`
	Removable   bool        `cbor:"removable"`
}

// BootEntry is the wire representation of bootloader.BootEntry.
type BootEntry struct {
	ID      string `cbor:"id"`
	Title   string `cbor:"title"`
	Default bool   `cbor:"default"`
}

// Response is the wire envelope for every server→client message. Only
// the field(s) relevant to Type are populated.
type Response struct {
	Type            ResponseType    `cbor:"type"`
	ServerErrorKind ServerErrorKind `cbor:"server_error_kind,omitempty"`
	Devices         []Device        `cbor:"devices,omitempty"`
	Device          *Device         `cbor:"device,omitempty"`
	TimeLeftMs      *int64          `cbor:"time_left_ms,omitempty"`
}

// WriteFrame CBOR-encodes v and writes it length-prefixed (4-byte
// big-endian byte count) to w.
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("rpc: encoding frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("rpc: frame of %d bytes exceeds max %d", len(payload), maxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed CBOR frame from r and decodes it
// into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return fmt.Errorf("rpc: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return cbor.Unmarshal(buf, v)
}
