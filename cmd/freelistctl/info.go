package main

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/leslie-fei/freelist"
)

var (
	infoFrom  int
	infoNeed  int
	infoSteps int
)

func init() {
	cmd := newInfoCmd()
	cmd.Flags().IntVar(&infoFrom, "from", 0, "Starting capacity of the growth preview")
	cmd.Flags().IntVar(&infoNeed, "need", 1, "Slots each preview step has to fit")
	cmd.Flags().IntVar(&infoSteps, "steps", 8, "Number of growth steps to preview")
	rootCmd.AddCommand(cmd)
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Report header size, limits and the default growth sequence",
		Long: `The info command reports the block header size, the element size used
by the sim command, the capacity limit and the capacities the default
growth policy steps through.

Example:
  freelistctl info
  freelistctl info --from 100 --need 10 --steps 4 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd)
		},
	}
	return cmd
}

type InfoResult struct {
	HeaderSize  int    `json:"header_size"`
	ElementSize int    `json:"element_size"`
	Memory      string `json:"memory"`
	MaxCapacity int    `json:"max_capacity"`
	Growth      []int  `json:"growth"`
}

func runInfo(cmd *cobra.Command) error {
	if infoFrom < 0 || infoNeed < 1 || infoSteps < 0 {
		return errors.Newf("invalid preview: from=%d need=%d steps=%d", infoFrom, infoNeed, infoSteps)
	}
	typ, err := parseMemoryType(memoryName)
	if err != nil {
		return err
	}

	config := freelist.DefaultConfig()
	info := InfoResult{
		HeaderSize:  freelist.HeaderSize,
		ElementSize: int(unsafe.Sizeof(record{})),
		Memory:      typ.String(),
		MaxCapacity: config.MaxCapacity,
	}
	for c, i := infoFrom, 0; i < infoSteps; i++ {
		next := min(config.Growth.NextCapacity(c, c+infoNeed), config.MaxCapacity)
		if next <= c {
			break
		}
		info.Growth = append(info.Growth, next)
		c = next
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(w, info)
	}

	p := newPrinter()
	p.Fprintf(w, "\nFreelist Information:\n")
	p.Fprintf(w, "  Header size: %d bytes\n", info.HeaderSize)
	p.Fprintf(w, "  Element size: %d bytes\n", info.ElementSize)
	p.Fprintf(w, "  Memory: %s\n", info.Memory)
	p.Fprintf(w, "  Max capacity: %d elements\n", info.MaxCapacity)
	p.Fprintf(w, "\nGrowth from %d, %d slots per step:\n", infoFrom, infoNeed)
	for i, c := range info.Growth {
		p.Fprintf(w, "  %2d: %d\n", i+1, c)
	}
	return nil
}
