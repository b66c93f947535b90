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

// Package grubenv implements the fixed-size 1024-byte GRUB environment
// block codec used by the `load_env`/`save_env` commands: two literal
// header lines, KEY=VALUE lines, and '#' padding to fill the block.
package grubenv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tinyboot/tinyboot/pkg/constants"
)

// ErrTooLarge is returned by Encode when the header plus entries would not
// fit within the fixed block size.
var ErrTooLarge = errors.New("grubenv: environment block too large")

const (
	header1 = "# GRUB Environment Block"
	header2 = "# WARNING: Do not edit this file by tools other than grub-editenv!!!"
)

// Entry is one KEY=VALUE pair. Order is preserved through Encode/Decode so
// round-tripping an environment reproduces the same block byte-for-byte.
type Entry struct {
	Key   string
	Value string
}

// Encode renders entries as a GRUB environment block, padding the
// remainder of the fixed 1024-byte block with '#'. Returns ErrTooLarge if
// the header and entries don't fit.
func Encode(entries []Entry) (string, error) {
	var b strings.Builder
	b.WriteString(header1)
	b.WriteByte('\n')
	b.WriteString(header2)
	b.WriteByte('\n')
	for _, e := range entries {
		fmt.Fprintf(&b, "%s=%s\n", e.Key, e.Value)
	}

	fillLen := constants.GrubEnvBlockSize - b.Len()
	if fillLen < 0 {
		return "", ErrTooLarge
	}
	b.WriteString(strings.Repeat("#", fillLen))
	return b.String(), nil
}

// Decode parses a raw environment block (or any KEY=VALUE-per-line text)
// into entries, ignoring '#'-prefixed lines. If whitelist is non-empty,
// only keys present in it are kept.
func Decode(block string, whitelist []string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(block, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if len(whitelist) > 0 && !contains(whitelist, key) {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
