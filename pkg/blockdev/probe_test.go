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

package blockdev_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/blockdev"
	"github.com/twpayne/go-vfs/vfst"
)

func ext4Image(uuid [16]byte, label string) []byte {
	buf := make([]byte, 2048)
	sb := 1024
	binary.LittleEndian.PutUint16(buf[sb+56:], 0xEF53)
	copy(buf[sb+104:sb+120], uuid[:])
	copy(buf[sb+120:sb+136], []byte(label))
	return buf
}

func fat32Image(serial [4]byte, label, oem string) []byte {
	buf := make([]byte, 2048)
	copy(buf[3:11], []byte(oem))
	binary.LittleEndian.PutUint16(buf[17:], 0) // RootEntCnt=0 => FAT32
	copy(buf[67:71], serial[:])
	copy(buf[71:82], []byte(label))
	buf[510] = 0x55
	buf[511] = 0xAA
	return buf
}

func TestProbeFsTypeExt4(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/dev/sda1": ext4Image([16]byte{0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11}, "root"),
	})
	require.NoError(t, err)
	defer cleanup()

	fsType, err := blockdev.ProbeFsType(fs, "/dev/sda1")
	require.NoError(t, err)
	ext4, ok := fsType.(blockdev.Ext4FsType)
	require.True(t, ok)
	require.Equal(t, "11111111-1111-1111-1111-111111111111", ext4.UUID)
	require.Equal(t, "root", ext4.Label)
	require.Equal(t, "ext4", fsType.Name())
}

func TestProbeFsTypeFat32(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/dev/sdb1": fat32Image([4]byte{0x78, 0x56, 0x34, 0x12}, "ESP", "MSDOS5.0"),
	})
	require.NoError(t, err)
	defer cleanup()

	fsType, err := blockdev.ProbeFsType(fs, "/dev/sdb1")
	require.NoError(t, err)
	fat, ok := fsType.(blockdev.FatFsType)
	require.True(t, ok)
	require.Equal(t, 32, fat.Bits)
	require.Equal(t, "1234-5678", fat.UUID)
	require.Equal(t, "ESP", fat.Label)
	require.Equal(t, "MSDOS5.0", fat.OEM)
}

func TestProbeFsTypeNotRecognized(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
		"/dev/sdc1": make([]byte, 2048),
	})
	require.NoError(t, err)
	defer cleanup()

	_, err = blockdev.ProbeFsType(fs, "/dev/sdc1")
	require.ErrorIs(t, err, blockdev.ErrNotRecognized)
}
