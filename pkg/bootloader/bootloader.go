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

// Package bootloader implements the bootloader façade: a uniform
// interface over the GRUB evaluator and the syslinux parser,
// instantiated once per mounted device.
package bootloader

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/grub"
	"github.com/tinyboot/tinyboot/pkg/syslinux"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// ErrNoBootloaderFound is returned by New when neither a GRUB nor a
// syslinux/extlinux config was found under the device's mountpoint.
var ErrNoBootloaderFound = errors.New("bootloader: no grub.cfg or extlinux/syslinux config found")

// grubConfigPaths is tried in order, relative to the device mountpoint.
var grubConfigPaths = []string{
	"boot/grub/grub.cfg",
	"grub/grub.cfg",
}

// BootEntry is the façade's flattened, backend-agnostic boot target.
type BootEntry struct {
	ID      string
	Title   string
	Default bool
}

// MenuEntry is either a leaf BootEntry or a SubMenu carrying
// its own ordered BootEntry list. Exactly one of Entry/Submenu is valid,
// selected by IsSubmenu.
type MenuEntry struct {
	ID        string
	Title     string
	IsSubmenu bool
	Entry     BootEntry
	Submenu   []BootEntry
}

// Flatten expands submenus inline, preserving top-to-bottom order, for
// consumers that don't care about menu structure.
func Flatten(entries []MenuEntry) []BootEntry {
	var out []BootEntry
	for _, e := range entries {
		if e.IsSubmenu {
			out = append(out, e.Submenu...)
		} else {
			out = append(out, e.Entry)
		}
	}
	return out
}

// BootLoader is the tagged variant over the two backends: exactly one
// of Grub/Syslinux is non-nil.
type BootLoader struct {
	Grub       *grub.Evaluator
	Syslinux   *syslinux.Config
	mountpoint string
}

// New probes mountpoint for a bootloader config, preferring GRUB.
func New(fsys types.FS, mountpoint string, searcher grub.Searcher, logger types.Logger) (*BootLoader, error) {
	for _, rel := range grubConfigPaths {
		path := filepath.Join(mountpoint, rel)
		if _, err := fsys.Stat(path); err != nil {
			continue
		}
		contents, err := fsys.ReadFile(path)
		if err != nil {
			return nil, err
		}
		prefix := filepath.Dir(path)
		ev, err := grub.NewEvaluator(string(contents), prefix, fsys, searcher, logger)
		if err != nil {
			return nil, err
		}
		return &BootLoader{Grub: ev, mountpoint: mountpoint}, nil
	}

	cfg, err := syslinux.Load(fsys, mountpoint)
	if err != nil {
		if errors.Is(err, syslinux.ErrConfigNotFound) {
			return nil, ErrNoBootloaderFound
		}
		return nil, err
	}
	return &BootLoader{Syslinux: cfg, mountpoint: mountpoint}, nil
}

// Timeout returns the bootloader's configured countdown.
func (b *BootLoader) Timeout() time.Duration {
	if b.Grub != nil {
		return b.Grub.Timeout()
	}
	return b.Syslinux.Timeout
}

// MenuEntries returns the façade's menu tree, one level deep.
func (b *BootLoader) MenuEntries() []MenuEntry {
	if b.Grub != nil {
		return b.grubMenuEntries()
	}
	var out []MenuEntry
	for _, e := range b.Syslinux.Entries {
		out = append(out, MenuEntry{
			ID:    e.Label,
			Title: e.Display,
			Entry: BootEntry{ID: e.Label, Title: e.Display, Default: e.Default},
		})
	}
	return out
}

func (b *BootLoader) grubMenuEntries() []MenuEntry {
	menu := b.Grub.Menu()

	// Resolve the `default` variable up front so the matching entry
	// carries Default=true, the same way a syslinux DEFAULT label does.
	var defaultEntry *grub.MenuEntry
	if flat := flattenGrubEntries(menu); len(flat) > 0 {
		var id *string
		if def, ok := b.Grub.Get("default"); ok {
			id = &def
		}
		defaultEntry = resolveGrubEntry(flat, id)
	}

	flatIndex := 0
	var out []MenuEntry
	for _, e := range menu {
		if e.IsSubmenu() {
			var sub []BootEntry
			for _, c := range e.Entries {
				sub = append(sub, BootEntry{
					ID:      grubEntryID(c, flatIndex),
					Title:   c.Title,
					Default: c == defaultEntry,
				})
				flatIndex++
			}
			out = append(out, MenuEntry{ID: e.ID, Title: e.Title, IsSubmenu: true, Submenu: sub})
			continue
		}
		entry := BootEntry{
			ID:      grubEntryID(e, flatIndex),
			Title:   e.Title,
			Default: e == defaultEntry,
		}
		flatIndex++
		out = append(out, MenuEntry{ID: entry.ID, Title: e.Title, Entry: entry})
	}
	return out
}

// grubEntryID synthesizes a stable id for entries the config never gave
// an explicit `--id`: the entry's position in the flattened boot-entry
// sequence, matching how a numeric `default` value resolves.
func grubEntryID(e *grub.MenuEntry, flatIndex int) string {
	if e.HasID {
		return e.ID
	}
	return strconv.Itoa(flatIndex)
}

// BootInfo resolves entryID to (linux, initrd, cmdline). A nil entryID
// selects the default: the `default` GRUB variable parsed as a numeric
// index into the flattened boot-entry list, falling back to an id
// match, falling back to index 0; for syslinux, the entry flagged
// Default, falling back to index 0.
func (b *BootLoader) BootInfo(entryID *string) (linux, initrd, cmdline string, err error) {
	if b.Grub != nil {
		return b.grubBootInfo(entryID)
	}
	return b.syslinuxBootInfo(entryID)
}

func (b *BootLoader) grubBootInfo(entryID *string) (linux, initrd, cmdline string, err error) {
	flat := flattenGrubEntries(b.Grub.Menu())
	if len(flat) == 0 {
		return "", "", "", grub.ErrBootEntryIncomplete
	}

	id := entryID
	if id == nil {
		if def, ok := b.Grub.Get("default"); ok {
			id = &def
		}
	}

	entry := resolveGrubEntry(flat, id)
	linux, initrd, cmdline, err = b.Grub.EvalBootEntry(entry)
	if err != nil {
		return "", "", "", err
	}
	return b.rootPath(linux), b.rootPath(initrd), cmdline, nil
}

// rootPath re-roots an evaluated kernel/initrd path under the device's
// mountpoint. Paths the config resolved through `search` (e.g.
// "($root)/boot/vmlinuz" with $root holding a mountpoint) already live
// under /mnt and pass through untouched.
func (b *BootLoader) rootPath(p string) string {
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, constants.MountRoot+"/") {
		return p
	}
	return filepath.Join(b.mountpoint, p)
}

// flattenGrubEntries produces the ordered boot-entry list that both
// default-index resolution and id lookup operate over. A submenu's
// subentry is matched by its own id, never the enclosing submenu's.
func flattenGrubEntries(menu []*grub.MenuEntry) []*grub.MenuEntry {
	var flat []*grub.MenuEntry
	for _, e := range menu {
		if e.IsSubmenu() {
			flat = append(flat, e.Entries...)
			continue
		}
		flat = append(flat, e)
	}
	return flat
}

func resolveGrubEntry(flat []*grub.MenuEntry, id *string) *grub.MenuEntry {
	if id != nil {
		if idx, err := strconv.Atoi(*id); err == nil && idx >= 0 && idx < len(flat) {
			return flat[idx]
		}
		for _, e := range flat {
			if e.HasID && e.ID == *id {
				return e
			}
		}
	}
	return flat[0]
}

func (b *BootLoader) syslinuxBootInfo(entryID *string) (linux, initrd, cmdline string, err error) {
	entries := b.Syslinux.Entries
	if len(entries) == 0 {
		return "", "", "", ErrNoBootloaderFound
	}

	var chosen *syslinux.Entry
	if entryID != nil {
		for i := range entries {
			if entries[i].Label == *entryID {
				chosen = &entries[i]
				break
			}
		}
	}
	if chosen == nil {
		for i := range entries {
			if entries[i].Default {
				chosen = &entries[i]
				break
			}
		}
	}
	if chosen == nil {
		chosen = &entries[0]
	}
	return chosen.Linux, chosen.Initrd, chosen.Cmdline, nil
}
