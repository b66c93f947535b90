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

// Package discovery wires the filesystem probe, block enumerator,
// mount manager and bootloader façade into a worker pool: one goroutine
// per candidate device, funneling coordinator.Device events through a
// single channel. It also implements grub.Searcher, since resolving
// `search` needs the same probed device inventory and the same mount
// manager the discovery pool uses.
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tinyboot/tinyboot/pkg/blockdev"
	"github.com/tinyboot/tinyboot/pkg/bootloader"
	"github.com/tinyboot/tinyboot/pkg/coordinator"
	"github.com/tinyboot/tinyboot/pkg/grub"
	"github.com/tinyboot/tinyboot/pkg/mountmgr"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// tracked is everything discovery knows about one candidate device,
// whether or not it ended up mounted or carrying a recognized bootloader.
type tracked struct {
	dev        blockdev.BlockDevice
	mountpoint string
	loader     *bootloader.BootLoader
}

// Discovery runs the enumerate/mount fan-out pool and doubles as the
// grub.Searcher the `search` command resolves against.
type Discovery struct {
	fs     types.FS
	mm     *mountmgr.Manager
	logger types.Logger

	mu      sync.Mutex
	devices map[string]*tracked // keyed by device path
}

var _ grub.Searcher = (*Discovery)(nil)

// New builds a Discovery over an already-running mount manager.
func New(fs types.FS, mm *mountmgr.Manager, logger types.Logger) *Discovery {
	return &Discovery{fs: fs, mm: mm, logger: logger, devices: make(map[string]*tracked)}
}

// Run enumerates candidate block devices and fans out one goroutine per
// candidate, probing, mounting and resolving a bootloader for each,
// emitting a coordinator.Device on out for every device that yields a
// usable bootloader. Ordering of arrivals on out is unspecified.
func (d *Discovery) Run(ctx context.Context, out chan<- coordinator.Device) error {
	candidates, err := blockdev.Enumerate()
	if err != nil {
		return fmt.Errorf("discovery: enumerate: %w", err)
	}

	var wg sync.WaitGroup
	for _, c := range candidates {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleCandidate(ctx, c, out)
		}()
	}
	wg.Wait()
	return nil
}

// Loader returns the bootloader façade resolved for a device path, so
// the supervisor can call BootInfo on the coordinator's chosen device
// without re-probing it.
func (d *Discovery) Loader(devicePath string) (*bootloader.BootLoader, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.devices[devicePath]
	if !ok || t.loader == nil {
		return nil, false
	}
	return t.loader, true
}

func (d *Discovery) handleCandidate(ctx context.Context, c blockdev.Candidate, out chan<- coordinator.Device) {
	fsType, err := blockdev.ProbeFsType(d.fs, c.Path)
	if err != nil {
		if d.logger != nil {
			d.logger.Debugf("discovery: %s not recognized: %v", c.Path, err)
		}
		return
	}

	d.mu.Lock()
	d.devices[c.Path] = &tracked{dev: blockdev.BlockDevice{
		Path: c.Path, FsType: fsType, Removable: c.Removable,
	}}
	d.mu.Unlock()

	mountpoint, err := d.mm.Mount(c.Path, fsType.Name())
	if err != nil {
		if d.logger != nil {
			d.logger.Warnf("discovery: mounting %s: %v", c.Path, err)
		}
		return
	}
	d.mu.Lock()
	d.devices[c.Path].mountpoint = mountpoint
	d.devices[c.Path].dev.Mountpoint = mountpoint
	d.mu.Unlock()

	bl, err := bootloader.New(d.fs, mountpoint, d, d.logger)
	if err != nil {
		if d.logger != nil {
			d.logger.Debugf("discovery: %s: no usable bootloader: %v", c.Path, err)
		}
		_ = d.mm.Unmount(mountpoint)
		d.mu.Lock()
		delete(d.devices, c.Path)
		d.mu.Unlock()
		return
	}
	d.mu.Lock()
	d.devices[c.Path].loader = bl
	d.mu.Unlock()

	entries := append([]bootloader.BootEntry(nil), bootloader.Flatten(bl.MenuEntries())...)
	dev := coordinator.Device{
		Name:        c.Path,
		Mountpoint:  mountpoint,
		BootEntries: entries,
		Timeout:     bl.Timeout(),
		Removable:   c.Removable,
	}

	select {
	case out <- dev:
	case <-ctx.Done():
	}
}

// Search implements grub.Searcher: locates a block device
// matching criterion, ensures it is mounted (reusing an existing mount
// via /proc/self/mountinfo when present), and returns its mountpoint.
func (d *Discovery) Search(criterion grub.SearchCriterion, name string) (string, error) {
	if criterion == grub.SearchByFile {
		return d.searchByFile(name)
	}
	return d.searchByMeta(criterion, name)
}

func (d *Discovery) searchByMeta(criterion grub.SearchCriterion, name string) (string, error) {
	d.mu.Lock()
	var match *tracked
	for _, t := range d.devices {
		if metaMatches(t.dev.FsType, criterion, name) {
			match = t
			break
		}
	}
	d.mu.Unlock()
	if match == nil {
		return "", fmt.Errorf("discovery: no device matches search criterion for %q", name)
	}
	return d.ensureMounted(match)
}

func metaMatches(fsType blockdev.FsType, criterion grub.SearchCriterion, name string) bool {
	switch fs := fsType.(type) {
	case blockdev.Ext4FsType:
		if criterion == grub.SearchByUUID {
			return fs.UUID == name
		}
		return fs.Label == name
	case blockdev.FatFsType:
		if criterion == grub.SearchByUUID {
			return fs.UUID == name
		}
		return fs.Label == name
	default:
		return false
	}
}

// searchByFile mounts each known device in turn (reusing an existing
// mount when present) until one exposes the requested file, matching
// GRUB's own `search --file` behavior of trying devices until a match is
// found.
func (d *Discovery) searchByFile(name string) (string, error) {
	d.mu.Lock()
	candidates := make([]*tracked, 0, len(d.devices))
	for _, t := range d.devices {
		candidates = append(candidates, t)
	}
	d.mu.Unlock()

	rel := strings.TrimPrefix(name, "/")
	for _, t := range candidates {
		mountpoint, err := d.ensureMounted(t)
		if err != nil {
			continue
		}
		if _, err := d.fs.Stat(filepath.Join(mountpoint, rel)); err == nil {
			return mountpoint, nil
		}
	}
	return "", fmt.Errorf("discovery: no device exposes file %q", name)
}

func (d *Discovery) ensureMounted(t *tracked) (string, error) {
	d.mu.Lock()
	mountpoint := t.mountpoint
	d.mu.Unlock()
	if mountpoint != "" {
		return mountpoint, nil
	}

	if existing, ok := d.mountedAt(t.dev.Path); ok {
		d.mu.Lock()
		t.mountpoint = existing
		t.dev.Mountpoint = existing
		d.mu.Unlock()
		return existing, nil
	}

	mountpoint, err := d.mm.Mount(t.dev.Path, t.dev.FsType.Name())
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	t.mountpoint = mountpoint
	t.dev.Mountpoint = mountpoint
	d.mu.Unlock()
	return mountpoint, nil
}

// mountedAt scans /proc/self/mountinfo for an existing mount of device,
// so a mount made outside the manager is reused instead of repeated.
func (d *Discovery) mountedAt(device string) (string, bool) {
	contents, err := d.fs.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(contents), "\n") {
		parts := strings.SplitN(line, " - ", 2)
		if len(parts) != 2 {
			continue
		}
		pre := strings.Fields(parts[0])
		post := strings.Fields(parts[1])
		if len(pre) < 5 || len(post) < 2 {
			continue
		}
		if post[1] == device {
			return pre[4], true
		}
	}
	return "", false
}
