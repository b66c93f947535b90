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

package syslinux_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/syslinux"
	"github.com/twpayne/go-vfs/vfst"
)

const sampleConfig = `
DEFAULT linux
TIMEOUT 50
PROMPT 0

LABEL linux
  MENU LABEL Linux
  LINUX /boot/vmlinuz
  INITRD /boot/initrd.img
  APPEND root=/dev/sda1 ro quiet

LABEL recovery
  MENU LABEL Recovery mode
  LINUX /boot/vmlinuz
  APPEND root=/dev/sda1 ro single
`

func TestParse(t *testing.T) {
	cfg := syslinux.Parse(sampleConfig, "/mnt/dev-sda1", "/mnt/dev-sda1/extlinux")

	require.Equal(t, 5*time.Second, cfg.Timeout)
	require.Len(t, cfg.Entries, 2)

	linux := cfg.Entries[0]
	require.Equal(t, "linux", linux.Label)
	require.Equal(t, "Linux", linux.Display)
	require.Equal(t, "/mnt/dev-sda1/boot/vmlinuz", linux.Linux)
	require.Equal(t, "/mnt/dev-sda1/boot/initrd.img", linux.Initrd)
	require.Equal(t, "root=/dev/sda1 ro quiet", linux.Cmdline)
	require.True(t, linux.Default)

	recovery := cfg.Entries[1]
	require.False(t, recovery.Default)
	require.Equal(t, "Recovery mode", recovery.Display)
}

func TestLoadPrefersExtlinux(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/mnt/dev-sda1/extlinux/extlinux.conf": sampleConfig,
		"/mnt/dev-sda1/syslinux/syslinux.cfg":  "LABEL only\n  LINUX /boot/vmlinuz\n",
	})
	require.NoError(t, err)
	defer cleanup()

	cfg, err := syslinux.Load(fs, "/mnt/dev-sda1")
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 2)
}

func TestLoadNotFound(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/mnt/dev-sda1/.keep": "",
	})
	require.NoError(t, err)
	defer cleanup()

	_, err = syslinux.Load(fs, "/mnt/dev-sda1")
	require.ErrorIs(t, err, syslinux.ErrConfigNotFound)
}
