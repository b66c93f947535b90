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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyboot/tinyboot/pkg/config"
	"github.com/tinyboot/tinyboot/pkg/constants"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	values, err := config.LoadFrom(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.NoError(t, err)
	require.Equal(t, config.Defaults(), values)
}

func TestLoadFromOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tinyboot.conf")
	contents := "log-level: debug\nsocket-path: /run/custom.sock\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	values, err := config.LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, "debug", values.LogLevel)
	require.Equal(t, "/run/custom.sock", values.SocketPath)
}

func TestDefaultsUseClientSocketPath(t *testing.T) {
	require.Equal(t, constants.ClientSocketPath, config.Defaults().SocketPath)
}
