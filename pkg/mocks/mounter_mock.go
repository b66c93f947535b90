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

package mocks

import (
	"errors"

	"github.com/tinyboot/tinyboot/pkg/types"
	"k8s.io/mount-utils"
)

var _ types.Mounter = (*FakeMounter)(nil)

// FakeMounter wraps mount.FakeMounter so tests can also force errors.
type FakeMounter struct {
	ErrorOnMount   bool
	ErrorOnUnmount bool
	Fake           *mount.FakeMounter
}

func NewFakeMounter() *FakeMounter {
	return &FakeMounter{Fake: &mount.FakeMounter{}}
}

func (m *FakeMounter) Mount(source string, target string, fstype string, options []string) error {
	if m.ErrorOnMount {
		return errors.New("mount error")
	}
	return m.Fake.Mount(source, target, fstype, options)
}

func (m *FakeMounter) Unmount(target string) error {
	if m.ErrorOnUnmount {
		return errors.New("unmount error")
	}
	return m.Fake.Unmount(target)
}

func (m *FakeMounter) IsLikelyNotMountPoint(file string) (bool, error) {
	return m.Fake.IsLikelyNotMountPoint(file)
}
