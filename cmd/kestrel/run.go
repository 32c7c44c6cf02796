package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/codec"
)

func newRunCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.kbc>",
		Short: "Run a program image and drain its microtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			scope := s.vm.OpenScope()
			defer scope.Close()
			result, err := s.run(scope)
			if err != nil {
				return s.report(err)
			}
			if result.Value() != vm.Undefined {
				fmt.Fprintln(s.out, green(s.vm.Inspect(result.Value())))
			}
			return nil
		},
	}
}

func newGCCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc <file.kbc>",
		Short: "Run a program image and print collector statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.close()

			scope := s.vm.OpenScope()
			_, err = s.run(scope)
			scope.Close()
			if err != nil {
				// An uncaught exception still leaves statistics worth printing.
				if err = s.report(err); !errors.Is(err, errUncaught) {
					return err
				}
			}

			before := s.vm.Stats()
			final := s.vm.Collect()
			printStats(s.out, "during run", before)
			printStats(s.out, "after final collection", final)
			return err
		},
	}
}

func printStats(w io.Writer, title string, st vm.GCStats) {
	fmt.Fprintln(w, cyan(title+":"))
	fmt.Fprintf(w, "  collections:   %d\n", st.Collections)
	fmt.Fprintf(w, "  live objects:  %d\n", st.Live)
	fmt.Fprintf(w, "  threshold:     %d\n", st.Threshold)
	fmt.Fprintf(w, "  freed (last):  %d\n", st.Freed)
	fmt.Fprintf(w, "  freed (total): %d\n", st.TotalFreed)
	fmt.Fprintf(w, "  symbols freed: %d\n", st.SymbolsFreed)
	fmt.Fprintf(w, "  weak cleared:  %d\n", st.WeakCleared)
	fmt.Fprintf(w, "  last pause:    %s\n", st.Duration)
}

// session is one VM running one program image.
type session struct {
	vm      *vm.VM
	program *vm.Program
	out     io.Writer
	errOut  io.Writer
}

func (o *cliOptions) newSession(cmd *cobra.Command, path string) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	p, err := codec.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &session{
		vm:      vm.New(cfg.VMOptions()),
		program: p,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
	}
	log.Infof("vm %s: running %s", s.vm.ID(), p.Source)
	if err := s.vm.RegisterNative("print", 0, s.print); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// print writes its arguments separated by spaces. Strings are written raw,
// everything else as Inspect shows it.
func (s *session) print(machine *vm.VM, this vm.Value, args []vm.Value) (vm.Unrooted, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		if a.IsString() {
			parts[i] = machine.StringOf(a)
		} else {
			parts[i] = machine.Inspect(a)
		}
	}
	fmt.Fprintln(s.out, strings.Join(parts, " "))
	return vm.Unroot(vm.Undefined), nil
}

// run runs the program and drains the microtask queue. A promise result is
// replaced by its settled value; a rejection is printed and reported as
// errUncaught.
func (s *session) run(scope *vm.LocalScope) (vm.Handle, error) {
	r, err := s.vm.RunProgram(s.program)
	if err != nil {
		return vm.Handle{}, err
	}
	result := scope.Root(r)
	if _, err := s.vm.RunPendingTasks(); err != nil {
		return result, err
	}

	state, settled, ok := s.vm.PromiseState(result.Value())
	if !ok {
		return result, nil
	}
	switch state {
	case vm.PromiseFulfilled:
		return scope.Root(settled), nil
	case vm.PromiseRejected:
		fmt.Fprintln(s.errOut, red("Uncaught (in promise) "+s.vm.Inspect(settled.Value())))
		return result, errUncaught
	}
	return result, nil
}

// report prints a script exception with its stack and returns errUncaught.
// Other errors are returned unchanged.
func (s *session) report(err error) error {
	var te *vm.ThrowError
	if !errors.As(err, &te) {
		return err
	}
	msg := te.Stack
	if msg == "" {
		msg = te.Error()
	}
	fmt.Fprintln(s.errOut, red("Uncaught "+strings.TrimPrefix(msg, "Uncaught ")))
	return errUncaught
}

func (s *session) close() {
	if err := s.vm.Close(); err != nil {
		log.Warningf("vm %s: %v", s.vm.ID(), err)
	}
}
