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

// Package config loads the optional /etc/tinyboot.conf file via viper:
// a handful of well-known keys overlaid on top of built-in defaults,
// with CLI flags (bound in cmd/tinyboot) taking precedence over the
// file.
package config

import (
	"errors"
	"io/fs"

	"github.com/spf13/viper"

	"github.com/tinyboot/tinyboot/pkg/constants"
)

// File is the default path consulted for persisted settings. Absence of
// this file is not an error — every key has a built-in default.
const File = "/etc/tinyboot.conf"

// Values holds the handful of settings tinyboot reads from CLI flags
// and/or File.
type Values struct {
	LogLevel   string
	SocketPath string
}

// Defaults returns the built-in values used when neither a flag nor
// File overrides them.
func Defaults() Values {
	return Values{
		LogLevel:   "info",
		SocketPath: constants.ClientSocketPath,
	}
}

// Load reads File (if present) via viper and returns the resulting
// Values. See LoadFrom for the details; Load is just LoadFrom(File).
func Load() (Values, error) {
	return LoadFrom(File)
}

// LoadFrom reads path (if present) via viper and returns the resulting
// Values, falling back to Defaults for anything unset. A missing file is
// not fatal — it just means every Values field comes from its default (or
// from whatever the caller later overlays from CLI flags via
// viper.BindPFlag). Any other read or parse error is returned.
func LoadFrom(path string) (Values, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("log-level", "info")
	v.SetDefault("socket-path", constants.ClientSocketPath)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return Values{}, err
		}
	}

	return Values{
		LogLevel:   v.GetString("log-level"),
		SocketPath: v.GetString("socket-path"),
	}, nil
}
