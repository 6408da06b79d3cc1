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

// Binary minos boots the simulated kernel and runs executables in it.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"minos.dev/minos/cmd/minos/cmd"
)

var (
	configPath = flag.String("config", "", "boot configuration TOML; empty uses the built-in default machine")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Boot), "")
	subcommands.Register(new(cmd.Exec), "")

	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	os.Exit(int(subcommands.Execute(context.Background(), *configPath, log)))
}
