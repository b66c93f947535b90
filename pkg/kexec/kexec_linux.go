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

// Package kexec implements the kexec driver: a thin wrapper
// over the kernel's file-based kexec_load syscall and the reboot(2)
// kexec-exec command, plus the plain reboot/poweroff terminal actions.
package kexec

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tinyboot/tinyboot/pkg/types"
)

// ErrValidationFailed is returned by Load when the kernel rejected the
// image, typically signature enforcement on a locked-down kernel. The
// kernel reports this as a permission error.
var ErrValidationFailed = errors.New("kexec: kernel rejected image (validation failed)")

// kexecFileNoInitramfs mirrors Linux's KEXEC_FILE_NO_INITRAMFS flag
// (include/uapi/linux/kexec.h) — not exposed by x/sys/unix, so named here.
const kexecFileNoInitramfs = 0x4

// RealKexec implements types.Kexec over the file-based kexec_load
// syscall.
type RealKexec struct {
	logger types.Logger
}

func NewRealKexec(logger types.Logger) *RealKexec {
	return &RealKexec{logger: logger}
}

// Load opens kernel and (if non-empty) initrd read-only and invokes
// kexec_load with cmdline as the boot command line.
func (k *RealKexec) Load(kernel, initrd, cmdline string) error {
	kernelFile, err := os.Open(kernel)
	if err != nil {
		return mapLoadError(err)
	}
	defer kernelFile.Close()

	var initrdFD uintptr
	flags := uintptr(kexecFileNoInitramfs)
	if initrd != "" {
		initrdFile, err := os.Open(initrd)
		if err != nil {
			return mapLoadError(err)
		}
		defer initrdFile.Close()
		initrdFD = initrdFile.Fd()
		flags = 0
	}

	cmdlineBytes := append([]byte(cmdline), 0)
	_, _, errno := unix.Syscall6(
		unix.SYS_KEXEC_FILE_LOAD,
		kernelFile.Fd(),
		initrdFD,
		uintptr(len(cmdlineBytes)),
		uintptr(unsafe.Pointer(&cmdlineBytes[0])),
		flags,
		0,
	)
	if errno != 0 {
		return mapLoadError(errno)
	}
	if k.logger != nil {
		k.logger.Infof("kexec: loaded kernel %s initrd %s", kernel, initrd)
	}
	return nil
}

// Execute syncs pending writes to disk, then triggers the kexec-exec
// reboot operation. On success the process is replaced by the loaded
// kernel and this call never returns; a return is always a failure.
func (k *RealKexec) Execute() error {
	unix.Sync()
	return unix.Reboot(unix.LINUX_REBOOT_CMD_KEXEC)
}

func mapLoadError(err error) error {
	if errors.Is(err, os.ErrPermission) || err == unix.EPERM || err == unix.EACCES {
		return ErrValidationFailed
	}
	return err
}

// RealRebooter implements types.Rebooter over unix.Sync/unix.Reboot.
type RealRebooter struct{}

func (RealRebooter) Sync() { unix.Sync() }

func (RealRebooter) Reboot() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}

func (RealRebooter) Poweroff() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
}
