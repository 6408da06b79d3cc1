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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kfs"
)

// Exec implements subcommands.Command for the "exec" command. It boots a
// kernel, loads the named ELF into a fresh address space, and drives the
// launch and teardown sequence. No instruction emulation happens here; the
// boundary function validates the entry state and exits immediately, so
// the command exercises loading, argument marshaling, and reclamation.
type Exec struct{}

// Name implements subcommands.Command.Name.
func (*Exec) Name() string {
	return "exec"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Exec) Synopsis() string {
	return "load an ELF executable into a booted kernel"
}

// Usage implements subcommands.Command.Usage.
func (*Exec) Usage() string {
	return `exec <elf-path> [arg...]`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Exec) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Exec) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	k, log, err := buildKernel(args)
	if err != nil {
		logrus.Errorf("boot failed: %v", err)
		return subcommands.ExitFailure
	}

	elf, err := kfs.OpenHostFile(f.Arg(0))
	if err != nil {
		log.Errorf("opening %q: %v", f.Arg(0), err)
		return subcommands.ExitFailure
	}
	defer elf.Close()
	k.RegisterFile(elf)

	k.Tasks().CurrentTask().SetFiles([]kfs.FD{
		&kfs.StreamFD{R: os.Stdin},
		&kfs.StreamFD{W: os.Stdout},
		&kfs.StreamFD{W: os.Stderr},
	})
	k.SetCallApp(func(argc int, argv guest.Addr, cs uint64, entry guest.Addr, rsp guest.Addr, osStackPtr *uint64) int32 {
		log.WithFields(logrus.Fields{
			"argc":  argc,
			"entry": entry,
			"rsp":   rsp,
		}).Info("reached ring-3 entry")
		return 0
	})

	before := k.Allocator().Stat().AllocatedFrames
	code, kerr := k.ExecuteFile(elf, f.Arg(0), f.Args()[1:])
	if kerr != nil {
		log.Errorf("executing %q: %v", f.Arg(0), kerr)
		return subcommands.ExitFailure
	}
	log.WithFields(logrus.Fields{
		"exit_code":     code,
		"frames_before": before,
		"frames_after":  k.Allocator().Stat().AllocatedFrames,
	}).Info("program finished")
	return subcommands.ExitStatus(code)
}
