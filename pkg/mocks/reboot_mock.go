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
)

var (
	_ types.Rebooter = (*FakeRebooter)(nil)
	_ types.Kexec    = (*FakeKexec)(nil)
)

// FakeRebooter records which terminal action was requested instead of
// calling into the kernel.
type FakeRebooter struct {
	Synced     bool
	Rebooted   bool
	Poweredoff bool
	ErrorOn    string // "reboot" or "poweroff"
}

func (f *FakeRebooter) Sync() { f.Synced = true }

func (f *FakeRebooter) Reboot() error {
	if f.ErrorOn == "reboot" {
		return errors.New("reboot error")
	}
	f.Rebooted = true
	return nil
}

func (f *FakeRebooter) Poweroff() error {
	if f.ErrorOn == "poweroff" {
		return errors.New("poweroff error")
	}
	f.Poweredoff = true
	return nil
}

// FakeKexec records the kernel/initrd/cmdline passed to Load and whether
// Execute was reached, without ever actually replacing the running kernel.
type FakeKexec struct {
	Kernel, Initrd, Cmdline string
	Loaded, Executed        bool
	LoadError, ExecError    error
}

func (f *FakeKexec) Load(kernel, initrd, cmdline string) error {
	if f.LoadError != nil {
		return f.LoadError
	}
	f.Kernel, f.Initrd, f.Cmdline = kernel, initrd, cmdline
	f.Loaded = true
	return nil
}

func (f *FakeKexec) Execute() error {
	if f.ExecError != nil {
		return f.ExecError
	}
	f.Executed = true
	return nil
}
