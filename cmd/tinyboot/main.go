/*
Copyright © 2022 - 2025 SUSE LLC

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

// tinyboot is the initramfs boot manager: it probes attached block
// devices for a bootable GRUB or syslinux configuration, lets a client
// over the local RPC socket pick an entry (or waits out the default
// timeout), then kexecs into it. See supervisor.Run for the attempt
// loop this command wires up.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/twpayne/go-vfs"

	log "github.com/sirupsen/logrus"

	"github.com/tinyboot/tinyboot/internal/version"
	"github.com/tinyboot/tinyboot/pkg/config"
	"github.com/tinyboot/tinyboot/pkg/kexec"
	"github.com/tinyboot/tinyboot/pkg/supervisor"
	"github.com/tinyboot/tinyboot/pkg/types"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tinyboot",
		Short:         "tinyboot is a minimal kexec-based boot manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	cmd.PersistentFlags().String("log-level", "info", "Set the logging level (trace, debug, info, warn, error)")
	_ = viper.BindPFlag("log-level", cmd.PersistentFlags().Lookup("log-level"))
	return cmd
}

func run(cmd *cobra.Command) error {
	values, err := config.Load()
	if err != nil {
		return types.NewFromError(fmt.Errorf("loading config: %w", err), types.InvalidConfig)
	}

	if cmd.PersistentFlags().Changed("log-level") {
		values.LogLevel = viper.GetString("log-level")
	}

	level, err := log.ParseLevel(values.LogLevel)
	if err != nil {
		return types.NewFromError(fmt.Errorf("parsing log-level %q: %w", values.LogLevel, err), types.InvalidConfig)
	}

	logger := types.NewLogger()
	logger.SetLevel(level)
	logger.Infof("%s %s starting", version.Name, version.GetVersion())

	runner := &types.RealRunner{Logger: logger}
	sv := supervisor.New(vfs.OSFS, types.NewMounter("mount"), runner, kexec.NewRealKexec(logger), kexec.RealRebooter{}, logger)
	sv.SocketPath = values.SocketPath

	if err := sv.Run(context.Background()); err != nil {
		logger.Errorf("tinyboot exiting: %v", err)
		return err
	}
	return nil
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		var exitErr *types.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}
