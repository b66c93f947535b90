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
	"strconv"
	"strings"
)

// Environment is the GRUB variable store: a plain string-keyed map
// seeded with the reserved keys on creation. It is mutated in place by
// `set`, `load_env`, `save_env`, `search`, `linux`, `initrd` and bare
// assignment statements.
type Environment struct {
	vars map[string]string
}

// NewEnvironment seeds the reserved keys. prefix is the path of the
// directory containing grub.cfg.
func NewEnvironment(prefix string) *Environment {
	return &Environment{vars: map[string]string{
		"?":             "0",
		"prefix":        prefix,
		"grub_platform": "tinyboot",
	}}
}

// Get returns the value of key and whether it is set.
func (e *Environment) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Set assigns key=value.
func (e *Environment) Set(key, value string) {
	e.vars[key] = value
}

// Unset clears key, as `set KEY=` does.
func (e *Environment) Unset(key string) {
	delete(e.vars, key)
}

// Clone returns a deep copy, used by EvalBootEntry so a boot entry's
// command side effects never leak into the parent evaluation.
func (e *Environment) Clone() *Environment {
	cp := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		cp[k] = v
	}
	return &Environment{vars: cp}
}

// setExitCode records the ASCII decimal exit code of the last command
// under the reserved "?" key.
func (e *Environment) setExitCode(code int) {
	e.vars["?"] = strconv.Itoa(code)
}

// expand performs variable expansion: $NAME and ${NAME} resolve
// against env (or the positional args for $1.."$N" inside a function
// call); missing variables expand to the empty string. Literal segments
// (single-quoted) are passed through unexpanded.
func expand(w Word, env *Environment, args []string) string {
	var b strings.Builder
	for _, seg := range w.segments {
		if seg.literal() {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(expandText(seg.text, env, args))
	}
	return b.String()
}

func expandText(s string, env *Environment, args []string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '$' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		if s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				i++
				continue
			}
			name := s[i+2 : i+2+end]
			b.WriteString(lookupVar(name, env, args))
			i += 2 + end + 1
			continue
		}
		name, consumed := scanVarName(s[i+1:])
		if consumed == 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		b.WriteString(lookupVar(name, env, args))
		i += 1 + consumed
	}
	return b.String()
}

func scanVarName(s string) (string, int) {
	if len(s) == 0 {
		return "", 0
	}
	if s[0] == '?' {
		return "?", 1
	}
	if s[0] >= '1' && s[0] <= '9' {
		return s[:1], 1
	}
	if !isIdentStart(s[0]) {
		return "", 0
	}
	n := 1
	for n < len(s) && isIdentCont(s[n]) {
		n++
	}
	return s[:n], n
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func lookupVar(name string, env *Environment, args []string) string {
	if len(name) == 1 && name[0] >= '1' && name[0] <= '9' {
		idx := int(name[0] - '1')
		if idx < len(args) {
			return args[idx]
		}
		return ""
	}
	v, _ := env.Get(name)
	return v
}
