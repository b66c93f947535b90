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

// Package coordinator implements the selection coordinator: a
// single-goroutine event loop merging device arrivals, client requests,
// and a 1 Hz ticker, resolving to either a chosen BootEntry or one of the
// Reboot/Poweroff/NoDefaultEntry sentinels.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/tinyboot/tinyboot/pkg/bootloader"
	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// Sentinel errors returned by Run; control flow, not faults.
var (
	ErrReboot         = errors.New("coordinator: reboot requested")
	ErrPoweroff       = errors.New("coordinator: poweroff requested")
	ErrNoDefaultEntry = errors.New("coordinator: timeout elapsed with no default entry")
)

// Device is the coordinator-visible view of one bootloader-bearing
// block device: its boot entries are already flattened
// (bootloader.Flatten), since the coordinator never cares about submenu
// structure.
type Device struct {
	Name        string
	Mountpoint  string
	BootEntries []bootloader.BootEntry
	Timeout     time.Duration
	Removable   bool
}

// RequestKind is a client request forwarded from the RPC server, minus
// Ping/StartStreaming/StopStreaming which the server answers itself.
type RequestKind int

const (
	ReqListBlockDevices RequestKind = iota
	ReqUserIsPresent
	ReqBoot
	ReqReboot
	ReqPoweroff
)

// Request is sent on the coordinator's request channel.
type Request struct {
	Kind    RequestKind
	EntryID string // set iff Kind == ReqBoot
}

// ServerErrorKind classifies a failed kexec attempt for clients.
type ServerErrorKind int

const (
	ServerErrorUnknown ServerErrorKind = iota
	ServerErrorValidationFailed
)

// Event is one of the broadcast response variants.
type Event interface{ isEvent() }

type NewDeviceEvent struct{ Device Device }
type ListBlockDevicesEvent struct{ Devices []Device }

// TimeLeftEvent carries nil Remaining once UserIsPresent has
// permanently suppressed the countdown.
type TimeLeftEvent struct{ Remaining *time.Duration }
type ServerDoneEvent struct{}
type ServerErrorEvent struct{ Kind ServerErrorKind }

func (NewDeviceEvent) isEvent()        {}
func (ListBlockDevicesEvent) isEvent() {}
func (TimeLeftEvent) isEvent()         {}
func (ServerDoneEvent) isEvent()       {}
func (ServerErrorEvent) isEvent()      {}

// Result is what Run returns on a successful selection: the device that
// owns the chosen entry, and the entry itself.
type Result struct {
	Device Device
	Entry  bootloader.BootEntry
}

// Coordinator owns three input channels: device arrivals, client
// requests, and (internally) a 1 Hz ticker. Events is the broadcast
// output fanned out to every client connection.
type Coordinator struct {
	deviceCh  chan Device
	requestCh chan Request
	eventCh   chan Event
	logger    types.Logger
}

// New constructs a Coordinator. The caller starts device producers
// writing to DeviceCh and the RPC server reading from Events and
// writing to RequestCh.
func New(logger types.Logger) *Coordinator {
	return &Coordinator{
		deviceCh:  make(chan Device),
		requestCh: make(chan Request, 16),
		eventCh:   make(chan Event, 64),
		logger:    logger,
	}
}

func (c *Coordinator) DeviceCh() chan<- Device   { return c.deviceCh }
func (c *Coordinator) RequestCh() chan<- Request { return c.requestCh }
func (c *Coordinator) Events() <-chan Event      { return c.eventCh }

// Emit pushes an event onto the broadcast stream from outside the Run
// loop. The supervisor uses it to report ServerDone/ServerError for the
// kexec attempt itself, which happens after Run has already returned.
func (c *Coordinator) Emit(e Event) { c.eventCh <- e }

// Close shuts down the broadcast stream. Call once no further Emit calls
// will be made for this run.
func (c *Coordinator) Close() { close(c.eventCh) }

// Run executes the selection state machine until a BootEntry is chosen
// or a Reboot/Poweroff/NoDefaultEntry sentinel fires.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	ticker := time.NewTicker(constants.TickInterval)
	defer ticker.Stop()

	var (
		devices              []Device
		foundFirstDevice     bool
		start                time.Time
		defaultAssigned      bool
		defaultFromRemovable bool
		defaultDevice        Device
		defaultEntry         bootloader.BootEntry
		hasUserInteraction   bool
		timeout              time.Duration
	)

	emit := func(e Event) {
		select {
		case c.eventCh <- e:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case d := <-c.deviceCh:
			if !foundFirstDevice {
				foundFirstDevice = true
				start = time.Now()
			}
			// A later device can extend but never shrink the window.
			if d.Timeout > timeout {
				timeout = d.Timeout
			}

			// The first non-removable device owns the default. A default
			// claimed by a removable device is provisional: it is
			// displaced when an internal disk shows up, so the outcome
			// does not depend on arrival order.
			if !defaultAssigned || (defaultFromRemovable && !d.Removable) {
				if entry, ok := firstDefaultOrFirst(d.BootEntries); ok {
					defaultAssigned = true
					defaultFromRemovable = d.Removable
					defaultDevice = d
					defaultEntry = entry
					if c.logger != nil {
						c.logger.Debugf("assigned default entry: %s", entry.Title)
					}
				}
			}

			devices = append(devices, d)
			emit(NewDeviceEvent{Device: d})

		case req := <-c.requestCh:
			switch req.Kind {
			case ReqListBlockDevices:
				emit(ListBlockDevicesEvent{Devices: append([]Device(nil), devices...)})
			case ReqUserIsPresent:
				hasUserInteraction = true
				emit(TimeLeftEvent{Remaining: nil})
			case ReqBoot:
				entry, device, ok := findEntry(devices, req.EntryID)
				if !ok {
					if c.logger != nil {
						c.logger.Warnf("boot request for unknown entry id %q ignored", req.EntryID)
					}
					continue
				}
				return &Result{Device: device, Entry: entry}, nil
			case ReqReboot:
				emit(ServerDoneEvent{})
				return nil, ErrReboot
			case ReqPoweroff:
				emit(ServerDoneEvent{})
				return nil, ErrPoweroff
			}

		case <-ticker.C:
			if !foundFirstDevice || hasUserInteraction {
				continue
			}
			// Until some device reports a positive timeout, count down
			// against the initial baseline instead of firing on the
			// first tick.
			effective := timeout
			if effective <= 0 {
				effective = constants.CoordinatorInitialTimeout
			}
			elapsed := time.Since(start)
			if effective > elapsed {
				remaining := effective - elapsed
				emit(TimeLeftEvent{Remaining: &remaining})
			}
			if elapsed >= effective {
				if defaultAssigned {
					return &Result{Device: defaultDevice, Entry: defaultEntry}, nil
				}
				return nil, ErrNoDefaultEntry
			}
		}
	}
}

func firstDefaultOrFirst(entries []bootloader.BootEntry) (bootloader.BootEntry, bool) {
	if len(entries) == 0 {
		return bootloader.BootEntry{}, false
	}
	for _, e := range entries {
		if e.Default {
			return e, true
		}
	}
	return entries[0], true
}

func findEntry(devices []Device, entryID string) (bootloader.BootEntry, Device, bool) {
	for _, d := range devices {
		for _, e := range d.BootEntries {
			if e.ID == entryID {
				return e, d, true
			}
		}
	}
	return bootloader.BootEntry{}, Device{}, false
}
