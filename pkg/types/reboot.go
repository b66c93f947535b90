/*
Copyright © 2022 - 2023 SUSE LLC

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

package types

// Rebooter issues the two non-kexec terminal actions a selection attempt
// can end in. Implemented over golang.org/x/sys/unix in pkg/kexec,
// faked in tests.
type Rebooter interface {
	Sync()
	Reboot() error
	Poweroff() error
}

// Kexec loads a kernel/initrd/cmdline triple into the running kernel,
// then jumps to it. Load and Execute are separate calls so the caller
// can unmount the boot device in between.
type Kexec interface {
	Load(kernel, initrd string, cmdline string) error
	Execute() error
}
