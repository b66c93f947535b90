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

// Package mountmgr implements the mount manager: it owns the
// set of mountpoints tinyboot has created, serializing every mutation
// through a single goroutine so concurrent probe workers never race on
// the tracked-mountpoint set or on the underlying mount(2) calls.
package mountmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// request is the single message type funneled through the manager's
// goroutine; kind selects which operation result is returned on done.
type request struct {
	kind   reqKind
	source string
	fstype string
	done   chan response
}

type reqKind int

const (
	reqMount reqKind = iota
	reqUnmount
	reqUnmountAll
)

type response struct {
	mountpoint string
	err        error
}

// Manager is the mount manager. All exported methods are safe to call
// concurrently — they enqueue a request and block on its response, while
// a single internal goroutine performs the actual Mount/Unmount calls and
// owns the tracked set.
type Manager struct {
	reqCh chan request
	done  chan struct{}
}

// New starts the manager's goroutine and returns a handle to it. Call
// the returned Manager's Close when done with it; Close does not unmount
// anything, so call UnmountAll first to release tracked mountpoints.
func New(fs types.FS, mounter types.Mounter, logger types.Logger) *Manager {
	m := &Manager{
		reqCh: make(chan request),
		done:  make(chan struct{}),
	}
	go m.run(fs, mounter, logger)
	return m
}

func (m *Manager) run(fs types.FS, mounter types.Mounter, logger types.Logger) {
	tracked := make(map[string]struct{})
	for req := range m.reqCh {
		switch req.kind {
		case reqMount:
			mountpoint := EscapePath(req.source)
			if err := fs.Mkdir(mountpoint, 0o755); err != nil && !os.IsExist(err) {
				req.done <- response{err: err}
				continue
			}
			if err := mounter.Mount(req.source, mountpoint, req.fstype, []string{"ro"}); err != nil {
				req.done <- response{err: fmt.Errorf("mounting %s at %s: %w", req.source, mountpoint, err)}
				continue
			}
			tracked[mountpoint] = struct{}{}
			req.done <- response{mountpoint: mountpoint}
		case reqUnmount:
			mountpoint := req.source
			err := mounter.Unmount(mountpoint)
			if err != nil {
				logger.Warnf("unmounting %s: %v", mountpoint, err)
			}
			delete(tracked, mountpoint)
			req.done <- response{err: err}
		case reqUnmountAll:
			var result *multierror.Error
			for mountpoint := range tracked {
				if err := mounter.Unmount(mountpoint); err != nil {
					logger.Warnf("unmounting %s: %v", mountpoint, err)
					result = multierror.Append(result, err)
				}
				delete(tracked, mountpoint)
			}
			req.done <- response{err: result.ErrorOrNil()}
		}
	}
	close(m.done)
}

// EscapePath computes the mountpoint for a device path: "/mnt/"
// prefixed to the device path with "/" replaced by "-", so /dev/sda1
// mounts at /mnt/dev-sda1.
func EscapePath(devicePath string) string {
	trimmed := strings.TrimPrefix(devicePath, "/")
	escaped := strings.ReplaceAll(trimmed, "/", "-")
	return filepath.Join(constants.MountRoot, escaped)
}

// Mount creates the mountpoint directory for source (if missing) and
// mounts it read-only with the given fstype, returning the mountpoint on
// success. Calling Mount again for an already-tracked source re-mounts;
// callers are expected to check BlockDevice.Mountpoint first.
func (m *Manager) Mount(source, fstype string) (string, error) {
	done := make(chan response, 1)
	m.reqCh <- request{kind: reqMount, source: source, fstype: fstype, done: done}
	resp := <-done
	return resp.mountpoint, resp.err
}

// Unmount unmounts a single tracked mountpoint.
func (m *Manager) Unmount(mountpoint string) error {
	done := make(chan response, 1)
	m.reqCh <- request{kind: reqUnmount, source: mountpoint, done: done}
	resp := <-done
	return resp.err
}

// UnmountAll unmounts every mountpoint currently tracked, best-effort:
// failures are logged and aggregated into the returned error rather than
// aborting the sweep.
func (m *Manager) UnmountAll() error {
	done := make(chan response, 1)
	m.reqCh <- request{kind: reqUnmountAll, done: done}
	resp := <-done
	return resp.err
}

// Close stops the manager's goroutine. It does not unmount anything;
// call UnmountAll first if that's desired.
func (m *Manager) Close() {
	close(m.reqCh)
	<-m.done
}
