package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simvm/vm"
)

// newLineReader returns a closure reading successive trimmed, lowercased
// lines from r; ok is false once the input is exhausted.
func newLineReader(r *os.File) func() (string, bool) {
	scanner := bufio.NewScanner(r)
	return func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		return strings.ToLower(strings.TrimSpace(scanner.Text())), true
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "simvmctl",
		Short: "Inspect and run compiled event-script bytecode images",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newDisasmCmd())
	root.AddCommand(newInspectCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var debug bool
	var maxSteps int
	var policyPath string

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load an image and run it to quiescence or fault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			opts := vm.Options{Logger: logger}
			if policyPath != "" {
				policy, err := vm.LoadResourcePolicy(policyPath)
				if err != nil {
					return fmt.Errorf("loading resource policy: %w", err)
				}
				opts.MaxHeapBytes = policy.MaxHeapBytes
				opts.EnergyPerStep = policy.EnergyPerStep
			}

			machine, err := vm.NewFromFile(args[0], opts)
			if err != nil {
				return err
			}

			if debug {
				return runDebugLoop(machine)
			}
			return runToCompletion(machine, maxSteps)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enter single-step debug mode")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 1_000_000, "stop after this many steps even if the script hasn't faulted or gone idle")
	cmd.Flags().StringVar(&policyPath, "policy", "", "path to a resource-policy config file (YAML/TOML/JSON)")
	return cmd
}

func runToCompletion(machine *vm.VM, maxSteps int) error {
	for i := 0; i < maxSteps; i++ {
		machine.Step(false, "cli")
		if f, has := machine.Fault(); has {
			return fmt.Errorf("fault: %s", f)
		}
		if r := machine.Registers(); r.IP == 0 && r.NS == r.CS && r.CE&r.ER == 0 {
			return nil
		}
	}
	return nil
}

// runDebugLoop is a single-step REPL in the spirit of the bytecode
// interpreter's old debug mode: n/next to step, r/run to free-run, b
// <line> to toggle a breakpoint on an IP value.
func runDebugLoop(machine *vm.VM) error {
	fmt.Println("Commands:\n\tn or next: execute next instruction\n\tr or run: run to completion\n\tb <ip>: toggle breakpoint at IP\n\tregs: print registers")

	printRegisters(machine)

	reader := newLineReader(os.Stdin)
	breakpoints := make(map[int32]struct{})
	running := false

	for {
		if running {
			if _, ok := breakpoints[machine.Registers().IP]; ok {
				fmt.Println("breakpoint hit")
				printRegisters(machine)
				running = false
				continue
			}
		} else {
			fmt.Print("-> ")
			line, ok := reader()
			if !ok {
				return nil
			}
			switch {
			case line == "n" || line == "next":
			case line == "r" || line == "run":
				running = true
				continue
			case line == "regs":
				printRegisters(machine)
				continue
			case len(line) > 2 && line[0] == 'b' && line[1] == ' ':
				var ip int32
				if _, err := fmt.Sscanf(line[2:], "%d", &ip); err == nil {
					if _, ok := breakpoints[ip]; ok {
						delete(breakpoints, ip)
					} else {
						breakpoints[ip] = struct{}{}
					}
				}
				continue
			default:
				continue
			}
		}

		machine.Step(true, "cli")
		if !running {
			printRegisters(machine)
		}
		if f, has := machine.Fault(); has {
			fmt.Println("fault:", f)
			return nil
		}
		if r := machine.Registers(); running && r.IP == 0 && r.NS == r.CS && r.CE&r.ER == 0 {
			fmt.Println("idle")
			printRegisters(machine)
			running = false
		}
	}
}

func printRegisters(machine *vm.VM) {
	r := machine.Registers()
	fmt.Printf("IP=%d SP=%d BP=%d CS=%d NS=%d CE=%#x ER=%#x FR=%s\n",
		r.IP, r.SP, r.BP, r.CS, r.NS, r.CE, r.ER, r.FR)
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <image>",
		Short: "Print the register line of an image without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := vm.NewFromFile(args[0], vm.Options{})
			if err != nil {
				return err
			}
			printRegisters(machine)
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <image>",
		Short: "Print the register block of an image without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := vm.NewFromFile(args[0], vm.Options{})
			if err != nil {
				return err
			}
			r := machine.Registers()
			fmt.Printf("version:  %d\n", r.VN)
			fmt.Printf("ip:       %d\n", r.IP)
			fmt.Printf("sp:       %d\n", r.SP)
			fmt.Printf("bp:       %d\n", r.BP)
			fmt.Printf("cs/ns:    %d/%d\n", r.CS, r.NS)
			fmt.Printf("ce/er/ie: %#x/%#x/%#x\n", r.CE, r.ER, r.IE)
			fmt.Printf("heap:     hr=%d hp=%d\n", r.HR, r.HP)
			fmt.Printf("globals:  gfr=%d sr=%d\n", r.GFR, r.SR)
			fmt.Printf("energy:   esr=%.2f slr=%.2f\n", r.ESR, r.SLR)
			fmt.Printf("fault:    %s\n", r.FR)
			return nil
		},
	}
}
