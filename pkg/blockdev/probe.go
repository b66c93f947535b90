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

package blockdev

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// ErrNotRecognized is returned by ProbeFsType when the prefix matches
// neither an ext4 superblock nor a FAT BPB.
var ErrNotRecognized = errors.New("blockdev: filesystem not recognized")

const (
	ext4MagicOffset = 56 // within the superblock, which itself starts at 1024
	ext4UUIDOffset  = 104
	ext4LabelOffset = 120
	ext4LabelLen    = 16
	ext4Magic       = 0xEF53

	fatOEMOffset         = 3
	fatOEMLen            = 8
	fatRootEntCntOffset  = 17
	fat16VolIDOffset     = 39
	fat16VolLabelOffset  = 43
	fat32VolIDOffset     = 67
	fat32VolLabelOffset  = 71
	fatVolLabelLen       = 11
	fatBootSigOffset     = 510
)

// ProbeFsType reads the fixed-size prefix of dev that covers both the
// ext4 superblock (at offset 1024) and the FAT BPB (at offset 0), and
// dispatches on whichever signature it recognizes.
func ProbeFsType(fsys types.FS, dev string) (FsType, error) {
	f, err := fsys.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", dev, err)
	}
	defer f.Close()

	buf := make([]byte, constants.Ext4SuperblockOffset+constants.Ext4SuperblockSize)
	n, _ := f.ReadAt(buf, 0)
	buf = buf[:n]

	if fsType, ok := probeExt4(buf); ok {
		return fsType, nil
	}
	if fsType, ok := probeFat(buf); ok {
		return fsType, nil
	}
	return nil, ErrNotRecognized
}

func probeExt4(buf []byte) (FsType, bool) {
	sb := constants.Ext4SuperblockOffset
	if len(buf) < sb+ext4LabelOffset+ext4LabelLen {
		return nil, false
	}
	magic := binary.LittleEndian.Uint16(buf[sb+ext4MagicOffset : sb+ext4MagicOffset+2])
	if magic != ext4Magic {
		return nil, false
	}
	rawUUID := buf[sb+ext4UUIDOffset : sb+ext4UUIDOffset+16]
	label := trimNUL(buf[sb+ext4LabelOffset : sb+ext4LabelOffset+ext4LabelLen])
	id, err := uuid.FromBytes(rawUUID)
	if err != nil {
		return nil, false
	}
	return Ext4FsType{UUID: id.String(), Label: label}, true
}

func probeFat(buf []byte) (FsType, bool) {
	if len(buf) < fatBootSigOffset+2 {
		return nil, false
	}
	if buf[fatBootSigOffset] != 0x55 || buf[fatBootSigOffset+1] != 0xAA {
		return nil, false
	}
	oem := trimNUL(buf[fatOEMOffset : fatOEMOffset+fatOEMLen])
	rootEntCnt := binary.LittleEndian.Uint16(buf[fatRootEntCntOffset : fatRootEntCntOffset+2])

	bits := 16
	volIDOff, volLabelOff := fat16VolIDOffset, fat16VolLabelOffset
	if rootEntCnt == 0 {
		bits = 32
		volIDOff, volLabelOff = fat32VolIDOffset, fat32VolLabelOffset
	}
	if len(buf) < volLabelOff+fatVolLabelLen {
		return nil, false
	}
	serial := buf[volIDOff : volIDOff+4]
	volID := fmt.Sprintf("%02X%02X-%02X%02X", serial[3], serial[2], serial[1], serial[0])
	label := trimNUL(buf[volLabelOff : volLabelOff+fatVolLabelLen])
	return FatFsType{Bits: bits, OEM: oem, UUID: volID, Label: label}, true
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimRight(b, " "))
}
