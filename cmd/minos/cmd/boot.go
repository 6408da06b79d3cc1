// Copyright 2025 The Minos Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd holds the minos subcommands.
package cmd

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/boot"
	"minos.dev/minos/pkg/kernel"
)

// buildKernel boots a kernel from the shared CLI arguments.
func buildKernel(args []any) (*kernel.Kernel, logrus.FieldLogger, error) {
	configPath := args[0].(string)
	log := args[1].(*logrus.Logger)

	cfg := boot.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = boot.LoadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	k, kerr := kernel.New(cfg, log)
	if kerr != nil {
		return nil, nil, kerr
	}
	return k, log, nil
}

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	ticks uint64
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot a kernel and report its memory state"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags]`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&b.ticks, "ticks", 0, "number of timer ticks to run after boot")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	k, log, err := buildKernel(args)
	if err != nil {
		logrus.Errorf("boot failed: %v", err)
		return subcommands.ExitFailure
	}

	for i := uint64(0); i < b.ticks; i++ {
		k.Tick()
	}

	stat := k.Allocator().Stat()
	log.WithFields(logrus.Fields{
		"allocated_frames": stat.AllocatedFrames,
		"total_frames":     stat.TotalFrames,
		"tick":             k.Timers().CurrentTick(),
	}).Info("kernel running")
	return subcommands.ExitSuccess
}
