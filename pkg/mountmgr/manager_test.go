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

package mountmgr_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/mocks"
	"github.com/tinyboot/tinyboot/pkg/mountmgr"
	"github.com/tinyboot/tinyboot/pkg/types"
	"github.com/twpayne/go-vfs/vfst"
)

func newTestFS(t *testing.T) types.FS {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/mnt/.keep": ""})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return fs
}

func TestEscapePath(t *testing.T) {
	require.Equal(t, "/mnt/dev-sda1", mountmgr.EscapePath("/dev/sda1"))
}

func TestMountCreatesMountpointAndTracksIt(t *testing.T) {
	fs := newTestFS(t)
	fake := mocks.NewFakeMounter()
	m := mountmgr.New(fs, fake, types.NewNullLogger())
	defer m.Close()

	mountpoint, err := m.Mount("/dev/sda1", "ext4")
	require.NoError(t, err)
	require.Equal(t, "/mnt/dev-sda1", mountpoint)

	info, err := fs.Stat(mountpoint)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestMountPropagatesMounterError(t *testing.T) {
	fs := newTestFS(t)
	fake := mocks.NewFakeMounter()
	fake.ErrorOnMount = true
	m := mountmgr.New(fs, fake, types.NewNullLogger())
	defer m.Close()

	_, err := m.Mount("/dev/sda1", "ext4")
	require.Error(t, err)
}

func TestUnmountAllIsBestEffort(t *testing.T) {
	fs := newTestFS(t)
	fake := mocks.NewFakeMounter()
	m := mountmgr.New(fs, fake, types.NewNullLogger())
	defer m.Close()

	_, err := m.Mount("/dev/sda1", "ext4")
	require.NoError(t, err)
	_, err = m.Mount("/dev/sda2", "vfat")
	require.NoError(t, err)

	fake.ErrorOnUnmount = true
	err = m.UnmountAll()
	require.Error(t, err)
}
