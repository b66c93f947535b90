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

package kexec_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/kexec"
	"github.com/tinyboot/tinyboot/pkg/types"
)

func TestLoadMissingKernelReturnsUnderlyingError(t *testing.T) {
	k := kexec.NewRealKexec(types.NewNullLogger())
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	err := k.Load(missing, "", "root=/dev/sda1")
	require.Error(t, err)
	require.NotErrorIs(t, err, kexec.ErrValidationFailed)
}
