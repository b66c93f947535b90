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

// Package grub implements the GRUB configuration evaluator: a
// lexer/parser for the subset of GRUB's command language that boot
// configs use, and an evaluator that executes it against an Environment
// to collect menu entries and resolve a chosen one to
// (linux, initrd, cmdline).
package grub

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// ErrBootEntryIncomplete is returned by EvalBootEntry when the entry's
// body finishes without ever setting `linux`.
var ErrBootEntryIncomplete = errors.New("grub: boot entry left 'linux' unset")

// SearchCriterion selects which field `search` matches against.
type SearchCriterion int

const (
	SearchByFile SearchCriterion = iota
	SearchByLabel
	SearchByUUID
)

// Searcher resolves `search`'s positional NAME against a criterion and
// returns the mountpoint, mounting the matching block device first if
// it isn't already mounted.
type Searcher interface {
	Search(criterion SearchCriterion, name string) (mountpoint string, err error)
}

// maxLoopIterations bounds `while` execution so a pathological or
// hostile grub.cfg can't hang the evaluator, which is synchronous and
// has no suspension point to cancel mid-command. A `for` loop runs once
// per listed value and does not consult this cap.
const maxLoopIterations = 100_000

// Evaluator holds the mutable evaluation state: the environment,
// user-defined functions, and the menu entries collected so far. It is
// synchronous; no command evaluation suspends.
type Evaluator struct {
	fs       types.FS
	logger   types.Logger
	searcher Searcher

	env       *Environment
	functions map[string]*FuncStmt
	args      []string // positional $1.."$N" inside the current function call

	menu []*MenuEntry
}

// NewEvaluator parses source and evaluates it top-to-bottom against a
// fresh environment seeded with prefix, collecting the top-level menu.
func NewEvaluator(source, prefix string, fs types.FS, searcher Searcher, logger types.Logger) (*Evaluator, error) {
	stmts, err := parse(source)
	if err != nil {
		return nil, err
	}
	ev := &Evaluator{
		fs:        fs,
		logger:    logger,
		searcher:  searcher,
		env:       NewEnvironment(prefix),
		functions: make(map[string]*FuncStmt),
	}
	ev.execBlock(stmts, &ev.menu, 0)
	return ev, nil
}

// Menu returns the top-level menu entries collected during evaluation.
func (ev *Evaluator) Menu() []*MenuEntry { return ev.menu }

// Get exposes the environment for read access, used by the bootloader
// façade to resolve the `default` variable.
func (ev *Evaluator) Get(key string) (string, bool) { return ev.env.Get(key) }

// Timeout returns the config's declared timeout, defaulting to
// GrubDefaultTimeout (5s) when `timeout` was never set or doesn't parse.
func (ev *Evaluator) Timeout() time.Duration {
	v, ok := ev.env.Get("timeout")
	if !ok {
		return constants.GrubDefaultTimeout
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return constants.GrubDefaultTimeout
	}
	return time.Duration(secs) * time.Second
}

// EvalBootEntry runs entry's consequence body against a clone of the
// current environment, so side effects never leak to other entries, and
// returns the resulting (linux, initrd, cmdline).
func (ev *Evaluator) EvalBootEntry(entry *MenuEntry) (linux, initrd, cmdline string, err error) {
	if entry.IsSubmenu() {
		return "", "", "", fmt.Errorf("grub: %q is a submenu, not a boot entry", entry.Title)
	}
	clone := &Evaluator{
		fs:        ev.fs,
		logger:    ev.logger,
		searcher:  ev.searcher,
		env:       ev.env.Clone(),
		functions: ev.functions,
	}
	var throwaway []*MenuEntry
	clone.execBlock(entry.Body, &throwaway, 0)

	linux, ok := clone.env.Get("linux")
	if !ok || linux == "" {
		return "", "", "", ErrBootEntryIncomplete
	}
	initrd, _ = clone.env.Get("initrd")
	cmdline, _ = clone.env.Get("linux_cmdline")
	return linux, initrd, cmdline, nil
}

// execBlock runs stmts in order, appending any menuentry/submenu
// statements into *collector, and returns the last command's exit code
// (0 for an empty block), mirroring how `if`/`while` read $? from a body.
func (ev *Evaluator) execBlock(stmts []Stmt, collector *[]*MenuEntry, depth int) int {
	code := 0
	for _, s := range stmts {
		code = ev.execStmt(s, collector, depth)
	}
	return code
}

func (ev *Evaluator) execStmt(s Stmt, collector *[]*MenuEntry, depth int) int {
	var code int
	switch t := s.(type) {
	case *AssignStmt:
		ev.env.Set(t.Name, expand(t.Value, ev.env, ev.args))
		code = 0
	case *CommandStmt:
		code = ev.execCommand(t)
	case *MenuStmt:
		ev.execMenu(t, collector, depth)
		code = 0
	case *IfStmt:
		code = ev.execIf(t, collector, depth)
	case *WhileStmt:
		code = ev.execWhile(t, collector, depth)
	case *ForStmt:
		code = ev.execFor(t, collector, depth)
	case *FuncStmt:
		ev.functions[t.Name] = t
		code = 0
	default:
		code = 0
	}
	ev.env.setExitCode(code)
	return code
}

func (ev *Evaluator) execMenu(t *MenuStmt, collector *[]*MenuEntry, depth int) {
	title := expand(t.Title, ev.env, ev.args)
	id := ""
	if t.HasID {
		id = expand(t.ID, ev.env, ev.args)
	}

	if t.Submenu {
		if depth >= 1 {
			// A submenu nested inside another submenu is flattened: its
			// boot entries join the enclosing submenu directly.
			ev.execBlock(t.Body, collector, depth)
			return
		}
		var inner []*MenuEntry
		ev.execBlock(t.Body, &inner, depth+1)
		*collector = append(*collector, &MenuEntry{
			ID: id, HasID: t.HasID, Title: title, Submenu: true, Entries: inner,
		})
		return
	}

	*collector = append(*collector, &MenuEntry{
		ID: id, HasID: t.HasID, Title: title, Body: t.Body,
	})
}

func (ev *Evaluator) execIf(t *IfStmt, collector *[]*MenuEntry, depth int) int {
	if ev.execCommand(t.Cond) == 0 {
		return ev.execBlock(t.Then, collector, depth)
	}
	for _, elif := range t.Elifs {
		if ev.execCommand(elif.Cond) == 0 {
			return ev.execBlock(elif.Body, collector, depth)
		}
	}
	if t.Else != nil {
		return ev.execBlock(t.Else, collector, depth)
	}
	return 0
}

func (ev *Evaluator) execWhile(t *WhileStmt, collector *[]*MenuEntry, depth int) int {
	code := 0
	for i := 0; i < maxLoopIterations; i++ {
		if ev.execCommand(t.Cond) != 0 {
			return code
		}
		code = ev.execBlock(t.Body, collector, depth)
	}
	if ev.logger != nil {
		ev.logger.Warn("grub: while loop exceeded iteration cap, aborting")
	}
	return code
}

func (ev *Evaluator) execFor(t *ForStmt, collector *[]*MenuEntry, depth int) int {
	code := 0
	for _, v := range t.Values {
		ev.env.Set(t.Name, expand(v, ev.env, ev.args))
		code = ev.execBlock(t.Body, collector, depth)
	}
	return code
}

func (ev *Evaluator) execCommand(cmd *CommandStmt) int {
	name := expand(cmd.Name, ev.env, ev.args)
	args := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = expand(a, ev.env, ev.args)
	}

	if fn, ok := ev.functions[name]; ok {
		return ev.callFunction(fn, args)
	}
	return ev.runBuiltin(name, args)
}

func (ev *Evaluator) callFunction(fn *FuncStmt, args []string) int {
	saved := ev.args
	ev.args = args
	defer func() { ev.args = saved }()

	var throwaway []*MenuEntry
	return ev.execBlock(fn.Body, &throwaway, 0)
}
