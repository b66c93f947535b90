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

package grub_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/grub"
	"github.com/tinyboot/tinyboot/pkg/types"
	"github.com/twpayne/go-vfs/vfst"
)

type fakeSearcher struct {
	mountpoints map[string]string // "criterion:name" -> mountpoint
	err         error
}

func (f *fakeSearcher) Search(criterion grub.SearchCriterion, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := searchKey(criterion, name)
	mp, ok := f.mountpoints[key]
	if !ok {
		return "", errNotFound
	}
	return mp, nil
}

func searchKey(criterion grub.SearchCriterion, name string) string {
	switch criterion {
	case grub.SearchByFile:
		return "file:" + name
	case grub.SearchByLabel:
		return "label:" + name
	default:
		return "uuid:" + name
	}
}

var errNotFound = errors.New("device not found")

func newTestFS(t *testing.T) types.FS {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/mnt/.keep": ""})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return fs
}

func TestSimpleMenuEntry(t *testing.T) {
	src := `
set timeout=7
set default=0
menuentry "NixOS" --id nixos {
	linux /boot/vmlinuz root=/dev/sda1
	initrd /boot/initrd.img
}
`
	ev, err := grub.NewEvaluator(src, "/mnt/dev-sda1/boot/grub", newTestFS(t), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 7*time.Second, ev.Timeout())

	menu := ev.Menu()
	require.Len(t, menu, 1)
	require.True(t, menu[0].IsBootEntry())
	require.Equal(t, "nixos", menu[0].ID)
	require.Equal(t, "NixOS", menu[0].Title)

	linux, initrd, cmdline, err := ev.EvalBootEntry(menu[0])
	require.NoError(t, err)
	require.Equal(t, "/boot/vmlinuz", linux)
	require.Equal(t, "/boot/initrd.img", initrd)
	require.Equal(t, "root=/dev/sda1", cmdline)

	// Re-evaluating the same entry is deterministic.
	linux2, initrd2, cmdline2, err := ev.EvalBootEntry(menu[0])
	require.NoError(t, err)
	require.Equal(t, linux, linux2)
	require.Equal(t, initrd, initrd2)
	require.Equal(t, cmdline, cmdline2)
}

func TestVariableExpansionAndAssignment(t *testing.T) {
	src := `
os_name="My OS"
menuentry "$os_name" {
	linux /boot/vmlinuz title=$os_name
}
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	require.Equal(t, "My OS", ev.Menu()[0].Title)

	_, _, cmdline, err := ev.EvalBootEntry(ev.Menu()[0])
	require.NoError(t, err)
	require.Equal(t, "title=My OS", cmdline)
}

func TestSingleQuotesSuppressExpansion(t *testing.T) {
	src := `
foo=bar
menuentry 'literal $foo' {
	linux /vmlinuz
}
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	require.Equal(t, "literal $foo", ev.Menu()[0].Title)
}

func TestIfElseBranchesOnExitCode(t *testing.T) {
	src := `
if [ -n foo ]; then
	set result=yes
else
	set result=no
fi
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	v, ok := ev.Get("result")
	require.True(t, ok)
	require.Equal(t, "yes", v)
}

func TestForLoopAssignsEachValue(t *testing.T) {
	src := `
for x in a b c ; do
	set last=$x
done
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	v, ok := ev.Get("last")
	require.True(t, ok)
	require.Equal(t, "c", v)
}

func TestFunctionCallBindsPositionalArgs(t *testing.T) {
	src := `
function greet {
	set greeted=$1
}
greet world
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	v, ok := ev.Get("greeted")
	require.True(t, ok)
	require.Equal(t, "world", v)
}

func TestSubmenuFlattensToTwoBootEntries(t *testing.T) {
	src := `
submenu "Advanced options" {
	menuentry "Entry A" {
		linux /vmlinuz-a
	}
	menuentry "Entry B" {
		linux /vmlinuz-b
	}
}
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	menu := ev.Menu()
	require.Len(t, menu, 1)
	require.True(t, menu[0].IsSubmenu())
	require.Len(t, menu[0].Entries, 2)
	require.Equal(t, "Entry A", menu[0].Entries[0].Title)
	require.Equal(t, "Entry B", menu[0].Entries[1].Title)
}

func TestEvalBootEntryClonesEnvironment(t *testing.T) {
	src := `
menuentry "A" {
	set shared=from-a
	linux /vmlinuz-a
}
menuentry "B" {
	linux /vmlinuz-b cmdline=$shared
}
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	menu := ev.Menu()
	require.Len(t, menu, 2)

	_, _, _, err = ev.EvalBootEntry(menu[0])
	require.NoError(t, err)
	_, ok := ev.Get("shared")
	require.False(t, ok, "entry A's `set` must not leak into the shared environment")

	_, _, cmdline, err := ev.EvalBootEntry(menu[1])
	require.NoError(t, err)
	require.Equal(t, "cmdline=", cmdline)
}

func TestEvalBootEntryIncompleteWithoutLinux(t *testing.T) {
	src := `
menuentry "Broken" {
	set foo=bar
}
`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), nil, nil)
	require.NoError(t, err)
	_, _, _, err = ev.EvalBootEntry(ev.Menu()[0])
	require.ErrorIs(t, err, grub.ErrBootEntryIncomplete)
}

func TestSearchBySetsVariable(t *testing.T) {
	searcher := &fakeSearcher{mountpoints: map[string]string{
		"uuid:2222": "/mnt/dev-sda2",
	}}
	src := `search --fs-uuid --set=root 2222`
	ev, err := grub.NewEvaluator(src, "/prefix", newTestFS(t), searcher, nil)
	require.NoError(t, err)
	v, ok := ev.Get("root")
	require.True(t, ok)
	require.Equal(t, "/mnt/dev-sda2", v)
}
