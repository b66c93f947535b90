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

package grub

import (
	"path/filepath"
	"strings"

	"github.com/tinyboot/tinyboot/pkg/grubenv"
)

// runBuiltin dispatches a command by name. Unknown commands are
// non-fatal: exit 0 with a trace log, matching GRUB's lax behavior
// with missing modules.
func (ev *Evaluator) runBuiltin(name string, args []string) int {
	switch name {
	case "set":
		return ev.runSet(args)
	case "test", "[":
		return ev.runTest(name, args)
	case "search":
		return ev.runSearch(args)
	case "linux":
		return ev.runLinux(args)
	case "initrd":
		return ev.runInitrd(args)
	case "load_env":
		return ev.runLoadEnv(args)
	case "save_env":
		return ev.runSaveEnv(args)
	case "true":
		return 0
	case "false":
		return 1
	case "insmod", "terminal_input", "terminal_output", "play", "loadfont", "gfxmode", "echo":
		return 0
	default:
		if ev.logger != nil {
			ev.logger.Tracef("grub: command %q not implemented", name)
		}
		return 0
	}
}

// runSet implements `set KEY=VALUE` / `set KEY=` (clear).
func (ev *Evaluator) runSet(args []string) int {
	if len(args) != 1 {
		return 2
	}
	key, value, ok := strings.Cut(args[0], "=")
	if !ok {
		return 2
	}
	if value == "" {
		ev.env.Unset(key)
	} else {
		ev.env.Set(key, value)
	}
	return 0
}

// stripParens removes GRUB's device-name parentheses, e.g.
// "(hd0,gpt1)/boot/vmlinuz" -> "hd0,gpt1/boot/vmlinuz". The evaluator
// treats the whole remainder as the path; parenthesized device prefixes
// within paths resolved under a mountpoint carry no extra meaning here.
func stripParens(s string) string {
	return strings.NewReplacer("(", "", ")", "").Replace(s)
}

// runLinux implements `linux PATH [ARGS...]`: first positional is the
// kernel path, the rest joins into the cmdline.
func (ev *Evaluator) runLinux(args []string) int {
	if len(args) == 0 {
		return 2
	}
	ev.env.Set("linux", stripParens(args[0]))
	ev.env.Set("linux_cmdline", strings.Join(args[1:], " "))
	return 0
}

// runInitrd implements `initrd PATH`.
func (ev *Evaluator) runInitrd(args []string) int {
	if len(args) == 0 {
		return 2
	}
	ev.env.Set("initrd", stripParens(args[0]))
	return 0
}

// searchArgs is the hand-parsed flag set for `search`, matching GRUB's
// manual: --file/--label/--fs-uuid are mutually exclusive,
// --set=VAR names the destination variable, --no-floppy is accepted and
// ignored (tinyboot never considers floppies), and the remaining
// positional is the NAME to search for.
type searchArgs struct {
	byFile, byLabel, byUUID bool
	setVar                  string
	name                    string
}

func parseSearchArgs(args []string) (searchArgs, bool) {
	var sa searchArgs
	var positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--file":
			sa.byFile = true
		case a == "--label":
			sa.byLabel = true
		case a == "--fs-uuid":
			sa.byUUID = true
		case a == "--no-floppy":
			// accepted, no-op
		case strings.HasPrefix(a, "--set="):
			sa.setVar = strings.TrimPrefix(a, "--set=")
		case a == "--set" && i+1 < len(args):
			// GRUB also accepts `--set VAR` as two tokens.
			i++
			sa.setVar = args[i]
		default:
			positional = append(positional, a)
		}
	}
	count := 0
	for _, b := range []bool{sa.byFile, sa.byLabel, sa.byUUID} {
		if b {
			count++
		}
	}
	if count != 1 || sa.setVar == "" || len(positional) != 1 {
		return sa, false
	}
	sa.name = positional[0]
	return sa, true
}

// runSearch implements `search`: resolves NAME against the
// requested criterion via the injected Searcher (which mounts the device
// if it isn't already, reusing an existing mount when present) and
// stores the mountpoint in the --set variable.
func (ev *Evaluator) runSearch(args []string) int {
	sa, ok := parseSearchArgs(args)
	if !ok || ev.searcher == nil {
		return 2
	}

	var criterion SearchCriterion
	switch {
	case sa.byFile:
		criterion = SearchByFile
	case sa.byLabel:
		criterion = SearchByLabel
	case sa.byUUID:
		criterion = SearchByUUID
	}

	mountpoint, err := ev.searcher.Search(criterion, sa.name)
	if err != nil {
		if ev.logger != nil {
			ev.logger.Debugf("grub: search %q failed: %v", sa.name, err)
		}
		return 1
	}
	ev.env.Set(sa.setVar, mountpoint)
	return 0
}

// runLoadEnv implements `load_env [--file=NAME] [WHITELISTED...]`,
// reading a grubenv file relative to $prefix.
func (ev *Evaluator) runLoadEnv(args []string) int {
	file := "grubenv"
	var whitelist []string
	for _, a := range args {
		if strings.HasPrefix(a, "--file=") {
			file = strings.TrimPrefix(a, "--file=")
			continue
		}
		whitelist = append(whitelist, a)
	}

	prefix, ok := ev.env.Get("prefix")
	if !ok {
		return 2
	}
	contents, err := ev.fs.ReadFile(filepath.Join(prefix, file))
	if err != nil {
		return 2
	}
	for _, e := range grubenv.Decode(string(contents), whitelist) {
		ev.env.Set(e.Key, e.Value)
	}
	return 0
}

// runSaveEnv implements `save_env [--file=NAME] VARIABLES...`: rereads
// the existing block, overwrites the named variables from the current
// environment, and rewrites the file.
func (ev *Evaluator) runSaveEnv(args []string) int {
	file := "grubenv"
	var variables []string
	for _, a := range args {
		if strings.HasPrefix(a, "--file=") {
			file = strings.TrimPrefix(a, "--file=")
			continue
		}
		variables = append(variables, a)
	}
	if len(variables) == 0 {
		return 2
	}

	prefix, ok := ev.env.Get("prefix")
	if !ok {
		return 2
	}
	path := filepath.Join(prefix, file)

	existing, err := ev.fs.ReadFile(path)
	if err != nil {
		return 2
	}
	entries := grubenv.Decode(string(existing), nil)

	for _, name := range variables {
		if value, ok := ev.env.Get(name); ok {
			entries = setEntry(entries, name, value)
		}
	}

	block, err := grubenv.Encode(entries)
	if err != nil {
		return 2
	}
	if err := ev.fs.WriteFile(path, []byte(block), 0o644); err != nil {
		return 2
	}
	return 0
}

func setEntry(entries []grubenv.Entry, key, value string) []grubenv.Entry {
	for i, e := range entries {
		if e.Key == key {
			entries[i].Value = value
			return entries
		}
	}
	return append(entries, grubenv.Entry{Key: key, Value: value})
}
