/*
Copyright © 2022 - 2024 SUSE LLC

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
	"os"
	"path/filepath"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
)

// Candidate is a device node (a partition, or a whole disk without
// partitions) the enumerator decided is worth probing and mounting.
type Candidate struct {
	Path      string
	Removable bool
}

// Enumerate walks the block device tree via ghw and returns every
// device worth probing: whole disks that themselves carry partitions
// are skipped (the partitions are the candidates, not the disk), as are
// loop devices with no backing file and zero-size partitions.
func Enumerate() ([]Candidate, error) {
	info, err := block.New(ghw.WithDisableTools(), ghw.WithDisableWarnings())
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, disk := range info.Disks {
		if isLoopWithoutBackingFile(disk.Name) {
			continue
		}
		// A disk carrying partitions is not itself a candidate — its
		// partitions are. A partitionless disk may hold a filesystem
		// directly, so it stays in.
		if len(disk.Partitions) == 0 {
			if disk.SizeBytes > 0 {
				candidates = append(candidates, Candidate{
					Path:      filepath.Join("/dev", disk.Name),
					Removable: disk.IsRemovable,
				})
			}
			continue
		}
		for _, part := range disk.Partitions {
			if part.SizeBytes == 0 {
				continue
			}
			candidates = append(candidates, Candidate{
				Path:      filepath.Join("/dev", part.Name),
				Removable: disk.IsRemovable,
			})
		}
	}
	return candidates, nil
}

// isLoopWithoutBackingFile reports whether diskName is a loopN device
// with no backing file, per /sys/class/block/loopN/loop/backing_file.
func isLoopWithoutBackingFile(diskName string) bool {
	if len(diskName) < 4 || diskName[:4] != "loop" {
		return false
	}
	backingFile := filepath.Join("/sys/class/block", diskName, "loop", "backing_file")
	_, err := os.Stat(backingFile)
	return os.IsNotExist(err)
}
