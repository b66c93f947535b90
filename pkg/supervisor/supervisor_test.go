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

package supervisor

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/kexec"
	"github.com/tinyboot/tinyboot/pkg/mocks"
	"github.com/tinyboot/tinyboot/pkg/rpc"
	"github.com/tinyboot/tinyboot/pkg/types"
	"github.com/twpayne/go-vfs/vfst"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	tfs, cleanup, err := vfst.NewTestFS(map[string]interface{}{})
	require.NoError(t, err)
	t.Cleanup(cleanup)

	kx := &mocks.FakeKexec{}
	rb := &mocks.FakeRebooter{}
	runner := mocks.NewFakeRunner()

	s := New(tfs, mocks.NewFakeMounter(), runner, kx, rb, types.NewNullLogger())
	s.SkipRootCheck = true
	s.SocketPath = filepath.Join(t.TempDir(), "tinyboot.sock")
	return s
}

func TestRunRefusesNonRoot(t *testing.T) {
	s := newTestSupervisor(t)
	s.SkipRootCheck = false
	s.geteuid = func() int { return 1000 }

	err := s.Run(context.Background())
	require.Error(t, err)
	var exitErr *types.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, types.NotRoot, exitErr.ExitCode())
}

func TestRunRebootRequestSyncsAndReboots(t *testing.T) {
	s := newTestSupervisor(t)
	rb := s.Rebooter.(*mocks.FakeRebooter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Wait for the rpc socket to come up, then request a reboot.
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", s.SocketPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, rpc.WriteFrame(conn, rpc.Request{Type: rpc.ReqReboot}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("Run did not return after Reboot request")
	}

	require.True(t, rb.Synced)
	require.True(t, rb.Rebooted)
}

func TestRunPoweroffRequestSyncsAndPowersOff(t *testing.T) {
	s := newTestSupervisor(t)
	rb := s.Rebooter.(*mocks.FakeRebooter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", s.SocketPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, rpc.WriteFrame(conn, rpc.Request{Type: rpc.ReqPoweroff}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("Run did not return after Poweroff request")
	}

	require.True(t, rb.Synced)
	require.True(t, rb.Poweredoff)
}

func TestIsValidationFailureMapsKexecPermissionError(t *testing.T) {
	require.True(t, isValidationFailure(kexec.ErrValidationFailed))
	require.False(t, isValidationFailure(errors.New("some other kexec failure")))
}
