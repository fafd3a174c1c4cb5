// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/squashdelta/delta"
	"github.com/snapcore/squashdelta/logger"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

const (
	shortHelp = "Generate a delta between two SquashFS images"
	longHelp  = `
squashdelta expands the compressed blocks that differ between two
SquashFS images and captures the remaining difference with xdelta3,
producing a patch that squashmerge can apply on top of the source
image to reconstruct the target bit-for-bit.
`
)

type options struct {
	Positional struct {
		Source string `positional-arg-name:"<source>" description:"source SquashFS image"`
		Target string `positional-arg-name:"<target>" description:"target SquashFS image"`
		Patch  string `positional-arg-name:"<patch-output>" description:"patch file to write"`
	} `positional-args:"yes" required:"yes"`
}

func init() {
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(Stderr, "WARNING: failed to activate logging: %v\n", err)
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = shortHelp
	parser.LongDescription = longHelp

	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	return delta.Diff(opts.Positional.Source, opts.Positional.Target, opts.Positional.Patch)
}
