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

// Package syslinux implements the extlinux/syslinux config parser: a
// small line-oriented scanner over the directive set tinyboot needs to
// resolve a menu entry to (kernel, initrd, cmdline).
package syslinux

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tinyboot/tinyboot/pkg/types"
)

// ErrConfigNotFound is returned by Load when neither recognized config
// path exists under the device's mountpoint.
var ErrConfigNotFound = errors.New("syslinux: no extlinux.conf or syslinux.cfg found")

// candidatePaths is tried in order, relative to the mountpoint.
var candidatePaths = []string{
	"extlinux/extlinux.conf",
	"syslinux/syslinux.cfg",
}

// Entry is one `LABEL` block.
type Entry struct {
	Label   string
	Display string // MENU LABEL text, falling back to Label
	Linux   string
	Initrd  string
	Cmdline string
	Default bool
}

// Config is the parsed result of one extlinux/syslinux file: the ordered
// entries plus the file-level TIMEOUT.
type Config struct {
	Entries []Entry
	Timeout time.Duration
}

// Load finds and parses the config file under mountpoint.
func Load(fsys types.FS, mountpoint string) (*Config, error) {
	for _, rel := range candidatePaths {
		path := filepath.Join(mountpoint, rel)
		if _, err := fsys.Stat(path); err != nil {
			continue
		}
		contents, err := fsys.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dir := filepath.Dir(path)
		return Parse(string(contents), mountpoint, dir), nil
	}
	return nil, ErrConfigNotFound
}

// Parse scans the recognized directives. configDir is the directory
// containing the config file, used to resolve LINUX/INITRD paths before
// they're re-rooted under mountpoint.
func Parse(source, mountpoint, configDir string) *Config {
	cfg := &Config{Timeout: 0}

	var defaultLabel string
	var cur *Entry
	var entries []Entry

	flush := func() {
		if cur != nil {
			entries = append(entries, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, rest := splitDirective(line)
		switch strings.ToUpper(directive) {
		case "DEFAULT":
			defaultLabel = rest
		case "TIMEOUT":
			if deciseconds, err := strconv.Atoi(rest); err == nil {
				cfg.Timeout = time.Duration(deciseconds) * 100 * time.Millisecond
			}
		case "LABEL":
			flush()
			cur = &Entry{Label: rest, Display: rest}
		case "MENU":
			subDirective, subRest := splitDirective(rest)
			if cur != nil && strings.EqualFold(subDirective, "LABEL") {
				cur.Display = subRest
			}
		case "LINUX", "KERNEL":
			if cur != nil {
				cur.Linux = resolvePath(mountpoint, configDir, rest)
			}
		case "INITRD":
			if cur != nil {
				cur.Initrd = resolvePath(mountpoint, configDir, rest)
			}
		case "APPEND":
			if cur != nil {
				cur.Cmdline = rest
			}
		case "PROMPT":
			// accepted, no effect on entry resolution
		}
	}
	flush()

	for i := range entries {
		if entries[i].Label == defaultLabel {
			entries[i].Default = true
		}
	}
	cfg.Entries = entries
	return cfg
}

func splitDirective(line string) (directive, rest string) {
	fields := strings.SplitN(line, " ", 2)
	directive = fields[0]
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}
	return directive, rest
}

// resolvePath resolves a LINUX/INITRD path relative to the config file's
// own directory, then re-roots it under the device's mountpoint.
func resolvePath(mountpoint, configDir, rel string) string {
	if rel == "" {
		return ""
	}
	abs := rel
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(configDir, rel)
	} else {
		abs = filepath.Join(mountpoint, rel)
	}
	return abs
}
