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

package rpc

import (
	"context"
	"net"
	"os"
	"os/user"
	"strconv"
	"sync"

	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/coordinator"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// broker fans out coordinator events to every subscribed connection,
// since coordinator.Events() is a single-reader channel and each
// connection needs its own independent, in-order copy of the stream.
type broker struct {
	mu          sync.Mutex
	subscribers map[int]chan coordinator.Event
	nextID      int
}

func newBroker() *broker {
	return &broker{subscribers: make(map[int]chan coordinator.Event)}
}

func (b *broker) subscribe() (int, <-chan coordinator.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan coordinator.Event, constants.ClientResponseQueueSize)
	b.subscribers[id] = ch
	return id, ch
}

func (b *broker) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// run drains source and fans every event out to current subscribers,
// best-effort: a subscriber whose buffer is full drops the event rather
// than stalling the whole broadcast.
func (b *broker) run(source <-chan coordinator.Event) {
	for e := range source {
		b.mu.Lock()
		for _, ch := range b.subscribers {
			select {
			case ch <- e:
			default:
			}
		}
		b.mu.Unlock()
	}
	b.mu.Lock()
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Server is the local socket server: it owns the listener and fans
// out coordinator broadcasts to every connected client, translating
// between the wire protocol and coordinator.Request/Event.
type Server struct {
	coord    *coordinator.Coordinator
	logger   types.Logger
	listener net.Listener
	broker   *broker
}

// Listen binds socketPath (removing any stale socket file first),
// chowns it to constants.ClientSocketGroup so an unprivileged UI can
// connect, and starts fanning out coord's events.
func Listen(socketPath string, coord *coordinator.Coordinator, logger types.Logger) (*Server, error) {
	if err := os.RemoveAll(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := chownSocketGroup(socketPath, constants.ClientSocketGroup); err != nil && logger != nil {
		logger.Warnf("chown %s to group %s: %v", socketPath, constants.ClientSocketGroup, err)
	}

	s := &Server{coord: coord, logger: logger, listener: ln, broker: newBroker()}
	go s.broker.run(coord.Events())
	return s, nil
}

func chownSocketGroup(path, group string) error {
	g, err := user.LookupGroup(group)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return err
	}
	return os.Chown(path, -1, gid)
}

// Serve accepts connections until ctx is canceled or the listener is
// closed, spawning one goroutine per connection.
func (s *Server) Serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.logger != nil {
				s.logger.Warnf("rpc: accept: %v", err)
			}
			return
		}
		go s.handleClient(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// handleClient runs one connection's conversation: Ping is answered
// locally, StartStreaming/StopStreaming toggle the per-connection flag
// (StartStreaming also flushes the withheld queue), everything else is
// forwarded to the coordinator.
func (s *Server) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id, events := s.broker.subscribe()
	defer s.broker.unsubscribe(id)

	reqCh := make(chan Request)
	go func() {
		defer close(reqCh)
		for {
			var req Request
			if err := ReadFrame(conn, &req); err != nil {
				return
			}
			select {
			case reqCh <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	streaming := false
	var queue []Response

	for {
		select {
		case <-ctx.Done():
			return

		case req, ok := <-reqCh:
			if !ok {
				return
			}
			switch req.Type {
			case ReqPing:
				if WriteFrame(conn, Response{Type: RespPong}) != nil {
					return
				}
			case ReqStartStreaming:
				streaming = true
				for _, resp := range queue {
					if WriteFrame(conn, resp) != nil {
						return
					}
				}
				queue = nil
			case ReqStopStreaming:
				streaming = false
			default:
				s.coord.RequestCh() <- toCoordinatorRequest(req)
			}

		case e, ok := <-events:
			if !ok {
				return
			}
			resp := toWireResponse(e)
			if !streaming && isQueueable(e) {
				queue = append(queue, resp)
				if len(queue) > constants.ClientResponseQueueSize {
					queue = queue[1:]
				}
				continue
			}
			if WriteFrame(conn, resp) != nil {
				return
			}
		}
	}
}

func isQueueable(e coordinator.Event) bool {
	switch e.(type) {
	case coordinator.NewDeviceEvent, coordinator.TimeLeftEvent:
		return true
	default:
		return false
	}
}

func toCoordinatorRequest(req Request) coordinator.Request {
	switch req.Type {
	case ReqListBlockDevices:
		return coordinator.Request{Kind: coordinator.ReqListBlockDevices}
	case ReqUserIsPresent:
		return coordinator.Request{Kind: coordinator.ReqUserIsPresent}
	case ReqBoot:
		return coordinator.Request{Kind: coordinator.ReqBoot, EntryID: req.EntryID}
	case ReqReboot:
		return coordinator.Request{Kind: coordinator.ReqReboot}
	case ReqPoweroff:
		return coordinator.Request{Kind: coordinator.ReqPoweroff}
	default:
		return coordinator.Request{}
	}
}

func toWireResponse(e coordinator.Event) Response {
	switch ev := e.(type) {
	case coordinator.NewDeviceEvent:
		d := toWireDevice(ev.Device)
		return Response{Type: RespNewDevice, Device: &d}
	case coordinator.ListBlockDevicesEvent:
		devices := make([]Device, len(ev.Devices))
		for i, d := range ev.Devices {
			devices[i] = toWireDevice(d)
		}
		return Response{Type: RespListBlockDevices, Devices: devices}
	case coordinator.TimeLeftEvent:
		var ms *int64
		if ev.Remaining != nil {
			v := ev.Remaining.Milliseconds()
			ms = &v
		}
		return Response{Type: RespTimeLeft, TimeLeftMs: ms}
	case coordinator.ServerDoneEvent:
		return Response{Type: RespServerDone}
	case coordinator.ServerErrorEvent:
		kind := ServerErrorUnknown
		if ev.Kind == coordinator.ServerErrorValidationFailed {
			kind = ServerErrorValidationFailed
		}
		return Response{Type: RespServerError, ServerErrorKind: kind}
	default:
		return Response{}
	}
}

func toWireDevice(d coordinator.Device) Device {
	entries := make([]BootEntry, len(d.BootEntries))
	for i, e := range d.BootEntries {
		entries[i] = BootEntry{ID: e.ID, Title: e.Title, Default: e.Default}
	}
	return Device{
		Name:        d.Name,
		Mountpoint:  d.Mountpoint,
		BootEntries: entries,
		TimeoutMs:   d.Timeout.Milliseconds(),
		Removable:   d.Removable,
	}
}
