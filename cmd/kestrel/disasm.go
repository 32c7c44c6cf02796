package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/codec"
)

func newDisasmCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "disasm <file.kbc>",
		Aliases: []string{"dis"},
		Short:   "Validate a program image and disassemble every function",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			p, err := codec.ReadFile(args[0])
			if err != nil {
				return err
			}

			machine := vm.New(cfg.VMOptions())
			defer machine.Close()
			fp, err := machine.Load(p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sourceHeader(p.Source))
			for _, line := range strings.Split(strings.TrimRight(fp.Disassemble(machine.Symbols), "\n"), "\n") {
				if strings.HasPrefix(strings.TrimSpace(line), "function ") {
					line = yellow(line)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func sourceHeader(source string) string {
	return cyan("; " + source)
}
