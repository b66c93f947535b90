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

package grubenv_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/grubenv"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []grubenv.Entry{
		{Key: "foo", Value: "bar"},
		{Key: "bar", Value: "baz"},
	}

	block, err := grubenv.Encode(entries)
	require.NoError(t, err)
	require.Len(t, block, constants.GrubEnvBlockSize)
	require.True(t, strings.HasPrefix(block, "# GRUB Environment Block\n# WARNING"))
	require.True(t, strings.HasSuffix(block, "#"))

	got := grubenv.Decode(block, nil)
	require.Equal(t, entries, got)
}

func TestEncodeTooLarge(t *testing.T) {
	entries := []grubenv.Entry{{Key: "foo", Value: strings.Repeat("x", constants.GrubEnvBlockSize)}}
	_, err := grubenv.Encode(entries)
	require.ErrorIs(t, err, grubenv.ErrTooLarge)
}

func TestDecodeIgnoresCommentsAndWhitelists(t *testing.T) {
	block := "# comment\nfoo=bar\nbar=baz\n###"
	got := grubenv.Decode(block, nil)
	require.Equal(t, []grubenv.Entry{{Key: "foo", Value: "bar"}, {Key: "bar", Value: "baz"}}, got)

	got = grubenv.Decode(block, []string{"bar"})
	require.Equal(t, []grubenv.Entry{{Key: "bar", Value: "baz"}}, got)
}

func TestDecodeSkipsMalformedLines(t *testing.T) {
	got := grubenv.Decode("not-a-kv-line\nfoo=bar", nil)
	require.Equal(t, []grubenv.Entry{{Key: "foo", Value: "bar"}}, got)
}
