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

// Package supervisor implements the top-level attempt loop: bring up
// discovery and the coordinator, resolve and kexec the chosen entry,
// and on any failure other than Reboot/Poweroff, fall back to an
// interactive shell so the operator is never stranded.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tinyboot/tinyboot/pkg/constants"
	"github.com/tinyboot/tinyboot/pkg/coordinator"
	"github.com/tinyboot/tinyboot/pkg/discovery"
	"github.com/tinyboot/tinyboot/pkg/kexec"
	"github.com/tinyboot/tinyboot/pkg/mountmgr"
	"github.com/tinyboot/tinyboot/pkg/rpc"
	"github.com/tinyboot/tinyboot/pkg/types"
)

// fallbackShell is respawned on any attempt failure other than an
// explicit Reboot/Poweroff request.
const fallbackShell = "/bin/sh"

// Supervisor owns the collaborators an attempt needs: the real
// filesystem, mounter, runner and kexec/rebooter surfaces are supplied by
// the caller (cmd/tinyboot) so tests can swap in fakes.
type Supervisor struct {
	FS            types.FS
	Mounter       types.Mounter
	Runner        types.Runner
	Kexec         types.Kexec
	Rebooter      types.Rebooter
	Logger        types.Logger
	SocketPath    string
	SkipRootCheck bool // set by tests; production callers leave false
	geteuid       func() int
}

// New builds a Supervisor with its socket path defaulted to
// constants.ClientSocketPath.
func New(fs types.FS, mounter types.Mounter, runner types.Runner, kx types.Kexec, rb types.Rebooter, logger types.Logger) *Supervisor {
	return &Supervisor{
		FS:         fs,
		Mounter:    mounter,
		Runner:     runner,
		Kexec:      kx,
		Rebooter:   rb,
		Logger:     logger,
		SocketPath: constants.ClientSocketPath,
	}
}

func (s *Supervisor) euid() int {
	if s.geteuid != nil {
		return s.geteuid()
	}
	return osGeteuid()
}

// Run is the supervisor's top-level loop: each iteration is one boot
// attempt. A resolved entry that kexecs successfully never
// returns from Execute; Reboot/Poweroff terminate the loop after the
// corresponding system call; a *types.ExitError (the RPC socket could not
// be bound) is returned to the caller; every other failure logs and
// respawns a shell before trying again.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.SkipRootCheck && s.euid() != 0 {
		return types.New("tinyboot must run as root (uid 0)", types.NotRoot)
	}

	for {
		err := s.attempt(ctx)
		var exitErr *types.ExitError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &exitErr):
			// Startup-class failures (socket bind) are not recoverable
			// by another attempt; surface them to the CLI instead of
			// looping through the shell.
			return err
		case errors.Is(err, coordinator.ErrReboot):
			s.logf("reboot requested, syncing and rebooting")
			s.Rebooter.Sync()
			return s.Rebooter.Reboot()
		case errors.Is(err, coordinator.ErrPoweroff):
			s.logf("poweroff requested, syncing and powering off")
			s.Rebooter.Sync()
			return s.Rebooter.Poweroff()
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.logf("boot attempt failed: %v", err)
			s.respawnShell()
		}
	}
}

// attempt runs exactly one discovery+selection+kexec cycle.
func (s *Supervisor) attempt(ctx context.Context) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mm := mountmgr.New(s.FS, s.Mounter, s.Logger)
	defer func() {
		if err := mm.UnmountAll(); err != nil {
			s.logf("unmounting devices: %v", err)
		}
		mm.Close()
	}()

	disc := discovery.New(s.FS, mm, s.Logger)
	coord := coordinator.New(s.Logger)

	go func() {
		if err := disc.Run(attemptCtx, coord.DeviceCh()); err != nil {
			s.logf("discovery: %v", err)
		}
	}()

	server, err := rpc.Listen(s.SocketPath, coord, s.Logger)
	if err != nil {
		return types.NewFromError(fmt.Errorf("supervisor: starting rpc server: %w", err), types.SocketSetup)
	}
	go server.Serve(attemptCtx)
	defer server.Close()

	result, runErr := coord.Run(attemptCtx)
	if runErr != nil {
		// Reboot/Poweroff already broadcast ServerDone themselves
		// (coordinator.Run); every other terminal error, chiefly
		// NoDefaultEntry, still needs one broadcast pair before the
		// stream closes so a connected UI can display the reason.
		if !errors.Is(runErr, coordinator.ErrReboot) && !errors.Is(runErr, coordinator.ErrPoweroff) {
			coord.Emit(coordinator.ServerErrorEvent{Kind: coordinator.ServerErrorUnknown})
			coord.Emit(coordinator.ServerDoneEvent{})
		}
		coord.Close()
		return runErr
	}

	linux, initrd, cmdline, err := s.bootInfo(disc, result)
	if err != nil {
		coord.Emit(coordinator.ServerErrorEvent{Kind: coordinator.ServerErrorUnknown})
		coord.Emit(coordinator.ServerDoneEvent{})
		coord.Close()
		return fmt.Errorf("supervisor: resolving boot entry: %w", err)
	}

	if err := s.Kexec.Load(linux, initrd, cmdline); err != nil {
		kind := coordinator.ServerErrorUnknown
		if isValidationFailure(err) {
			kind = coordinator.ServerErrorValidationFailed
		}
		coord.Emit(coordinator.ServerErrorEvent{Kind: kind})
		coord.Emit(coordinator.ServerDoneEvent{})
		coord.Close()
		return fmt.Errorf("supervisor: kexec load: %w", err)
	}

	coord.Emit(coordinator.ServerDoneEvent{})
	coord.Close()

	if err := s.Kexec.Execute(); err != nil {
		return fmt.Errorf("supervisor: kexec execute: %w", err)
	}
	// Execute replaces the running process on success; reaching here is
	// itself a failure.
	return errors.New("supervisor: kexec execute returned unexpectedly")
}

func (s *Supervisor) bootInfo(disc *discovery.Discovery, result *coordinator.Result) (linux, initrd, cmdline string, err error) {
	loader, ok := disc.Loader(result.Device.Name)
	if !ok {
		return "", "", "", fmt.Errorf("no bootloader resolved for device %s", result.Device.Name)
	}
	id := result.Entry.ID
	return loader.BootInfo(&id)
}

// isValidationFailure reports whether a kexec error should surface to
// clients as ValidationFailed rather than a generic failure.
func isValidationFailure(err error) bool {
	return errors.Is(err, kexec.ErrValidationFailed)
}

func (s *Supervisor) respawnShell() {
	s.logf("falling back to %s", fallbackShell)
	cmd := s.Runner.InitCmd(fallbackShell)
	if _, err := s.Runner.RunCmd(cmd); err != nil {
		s.logf("shell exited: %v", err)
	}
}

func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Warnf(format, args...)
	}
}

func osGeteuid() int { return os.Geteuid() }
