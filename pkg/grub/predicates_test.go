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
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/grub"
	"github.com/twpayne/go-vfs/vfst"
)

// TestTestCommandMatrix walks the file and string predicates.
func TestTestCommandMatrix(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/dev":      &vfst.Dir{Perm: 0o755},
		"/dev/null": "",
	})
	require.NoError(t, err)
	defer cleanup()

	run := func(src string) (string, bool) {
		ev, err := grub.NewEvaluator(src, "/prefix", fs, nil, nil)
		require.NoError(t, err)
		return ev.Get("result")
	}

	cases := []struct {
		name string
		cmd  string
		want string
	}{
		{"dir exists", `if test -d /dev ; then set result=ok ; else set result=bad ; fi`, "ok"},
		{"not a regular file", `if test -f /dev ; then set result=bad ; else set result=ok ; fi`, "ok"},
		{"exists", `if test -e /dev ; then set result=ok ; else set result=bad ; fi`, "ok"},
		{"nonzero length", `if test -n foo ; then set result=ok ; else set result=bad ; fi`, "ok"},
		{"zero length false", `if test -z foo ; then set result=bad ; else set result=ok ; fi`, "ok"},
		{"zero length true", `if test -z "" ; then set result=ok ; else set result=bad ; fi`, "ok"},
		{"prefix-stripped gt", `if test foo1 -pgt bar0 ; then set result=ok ; else set result=bad ; fi`, "ok"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := run(c.cmd)
			require.True(t, ok)
			require.Equal(t, c.want, got)
		})
	}
}

func TestTestCommandNonNumericOperandReturnsTwo(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/.keep": ""})
	require.NoError(t, err)
	defer cleanup()

	// "test 5 -eq abc" is a malformed 3-arg invocation (non-numeric
	// operand): exit code 2, which the evaluator records in $?.
	src := `test 5 -eq abc`
	ev, err := grub.NewEvaluator(src, "/prefix", fs, nil, nil)
	require.NoError(t, err)
	v, ok := ev.Get("?")
	require.True(t, ok)
	require.Equal(t, "2", v)
}
