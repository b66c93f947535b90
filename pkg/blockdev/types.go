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

// Package blockdev implements the filesystem probe and block
// enumerator: identifying ext4/FAT block devices and walking the block
// device tree for mountable candidates.
package blockdev

// FsType is the tagged variant produced by the filesystem probe. The
// two recognized families, ext4 and FAT, are a permanently closed set,
// so a two-armed interface with a private marker method is used instead
// of an open interface.
type FsType interface {
	isFsType()
	// Name returns the mount(2) filesystem type string ("ext4"/"vfat").
	Name() string
}

// Ext4FsType is produced when the probe recognizes an ext4 superblock.
type Ext4FsType struct {
	UUID  string
	Label string
}

func (Ext4FsType) isFsType()    {}
func (Ext4FsType) Name() string { return "ext4" }

// FatFsType is produced when the probe recognizes a FAT16 or FAT32 BPB.
// Bits is 16 or 32.
type FatFsType struct {
	Bits  int
	OEM   string
	UUID  string
	Label string
}

func (FatFsType) isFsType()    {}
func (FatFsType) Name() string { return "vfat" }

// BlockDevice is a device node plus what the probe found on it, and
// whatever mount state the mount manager currently has for it.
type BlockDevice struct {
	Path       string
	FsType     FsType
	Mountpoint string // empty when not currently mounted
	Removable  bool
}
