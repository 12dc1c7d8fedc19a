package main

import (
	"math/rand"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/leslie-fei/freelist"
)

var (
	simSeed        int64
	simOps         int
	simMaxRun      int
	simReleasePct  int
	simShrinkEvery int
	simMaxCapacity int
	simNoCoalesce  bool
)

func init() {
	cmd := newSimCmd()
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Workload random seed")
	cmd.Flags().IntVar(&simOps, "ops", 10000, "Number of allocate/release operations")
	cmd.Flags().IntVar(&simMaxRun, "max-run", 64, "Largest run a single allocation asks for")
	cmd.Flags().IntVar(&simReleasePct, "release", 40, "Percentage of operations that release a live run")
	cmd.Flags().IntVar(&simShrinkEvery, "shrink-every", 0, "Give trailing free slots back every N operations, 0 disables")
	cmd.Flags().IntVar(&simMaxCapacity, "max-capacity", 0, "Capacity limit in elements, 0 for the default")
	cmd.Flags().BoolVar(&simNoCoalesce, "no-coalesce", false, "Keep released runs apart")
	rootCmd.AddCommand(cmd)
}

func newSimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a seeded allocate/release workload",
		Long: `The sim command drives an allocator with a random but reproducible
workload. Every allocated run is stamped and checked before the report, so
a run corrupted by bookkeeping fails the command. The same seed and flags
always produce the same fingerprint.

Example:
  freelistctl sim --seed 7 --ops 100000
  freelistctl sim --memory mmap --path /tmp/arena --shrink-every 1000 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(cmd)
		},
	}
	return cmd
}

// record is the element the workload allocates. It holds no pointers, so
// every memory type can carry it.
type record struct {
	id  uint64
	run uint32
	pos uint32
}

type run struct {
	index, n int
	id       uint64
}

type SimResult struct {
	Memory        string         `json:"memory"`
	Seed          int64          `json:"seed"`
	Ops           int            `json:"ops"`
	Capacity      int            `json:"capacity"`
	CapacityBytes int            `json:"capacity_bytes"`
	Used          int            `json:"used"`
	Free          int            `json:"free"`
	LiveRuns      int            `json:"live_runs"`
	FreeBlocks    int            `json:"free_blocks"`
	LargestFree   int            `json:"largest_free"`
	Failures      int            `json:"failures"`
	Stats         freelist.Stats `json:"stats"`
	Fingerprint   string         `json:"fingerprint"`
}

func runSim(cmd *cobra.Command) (err error) {
	if simOps < 0 || simMaxRun < 1 || simReleasePct < 0 || simReleasePct > 100 || simShrinkEvery < 0 {
		return errors.Newf("invalid workload: ops=%d max-run=%d release=%d shrink-every=%d",
			simOps, simMaxRun, simReleasePct, simShrinkEvery)
	}
	config, err := listConfig(cmd)
	if err != nil {
		return err
	}
	config.NoCoalesce = simNoCoalesce
	if simMaxCapacity > 0 {
		config.MaxCapacity = simMaxCapacity
	}

	fl, err := freelist.New[record](config)
	if err != nil {
		return errors.Wrap(err, "create freelist")
	}
	defer func() {
		if closeErr := fl.Close(); closeErr != nil {
			err = errors.CombineErrors(err, errors.Wrap(closeErr, "close freelist"))
		}
	}()

	result, err := simulate(fl, config)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(w, result)
	}

	p := newPrinter()
	p.Fprintf(w, "\nSimulation:\n")
	p.Fprintf(w, "  Memory: %s\n", result.Memory)
	p.Fprintf(w, "  Seed: %d\n", result.Seed)
	p.Fprintf(w, "  Operations: %d\n", result.Ops)
	p.Fprintf(w, "\nLayout:\n")
	p.Fprintf(w, "  Capacity: %d elements (%d bytes)\n", result.Capacity, result.CapacityBytes)
	p.Fprintf(w, "  Used: %d in %d runs\n", result.Used, result.LiveRuns)
	p.Fprintf(w, "  Free: %d in %d blocks, largest %d\n", result.Free, result.FreeBlocks, result.LargestFree)
	p.Fprintf(w, "  Failed allocations: %d\n", result.Failures)
	p.Fprintf(w, "\nActivity:\n")
	p.Fprintf(w, "  Allocations: %d (%d without growth)\n", result.Stats.AllocCalls, result.Stats.AllocFastPath)
	p.Fprintf(w, "  Releases: %d\n", result.Stats.ReleaseCalls)
	p.Fprintf(w, "  Splits: %d\n", result.Stats.SplitCount)
	p.Fprintf(w, "  Merges: %d\n", result.Stats.MergeCount)
	p.Fprintf(w, "  Growth: %d calls, %d slots\n", result.Stats.GrowCalls, result.Stats.GrowSlots)
	p.Fprintf(w, "  Shrinks: %d\n", result.Stats.ShrinkCalls)
	p.Fprintf(w, "\nFingerprint: %s\n", result.Fingerprint)
	return nil
}

func simulate(fl *freelist.Freelist[record], config *freelist.Config) (*SimResult, error) {
	rng := rand.New(rand.NewSource(simSeed))
	logger := config.Logger
	result := &SimResult{Memory: config.MemoryType.String(), Seed: simSeed, Ops: simOps}

	var live []run
	for i := 0; i < simOps; i++ {
		if simShrinkEvery > 0 && i > 0 && i%simShrinkEvery == 0 {
			if err := fl.ShrinkTo(0); err != nil {
				return nil, errors.Wrapf(err, "op %d: shrink", i)
			}
		}

		if len(live) > 0 && rng.Intn(100) < simReleasePct {
			k := rng.Intn(len(live))
			r := live[k]
			if err := checkRun(fl, r); err != nil {
				return nil, errors.Wrapf(err, "op %d", i)
			}
			if err := fl.Release(r.index, r.n); err != nil {
				return nil, errors.Wrapf(err, "op %d: release [%d, %d)", i, r.index, r.index+r.n)
			}
			live[k] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}

		n := 1 + rng.Intn(simMaxRun)
		index, err := fl.Allocate(n)
		if errors.Is(err, freelist.ErrCapacity) {
			result.Failures++
			logger.Info("allocation refused", "op", i, "need", n)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "op %d: allocate %d", i, n)
		}
		r := run{index: index, n: n, id: uint64(i) + 1}
		for pos := range fl.Slice(index, n) {
			*fl.At(index + pos) = record{id: r.id, run: uint32(n), pos: uint32(pos)}
		}
		live = append(live, r)
	}

	for _, r := range live {
		if err := checkRun(fl, r); err != nil {
			return nil, err
		}
	}
	if err := fl.Validate(); err != nil {
		return nil, err
	}
	if err := fl.Flush(); err != nil {
		return nil, err
	}

	capacityBytes, err := fl.CapacityBytes()
	if err != nil {
		return nil, err
	}
	result.Capacity = fl.Capacity()
	result.CapacityBytes = capacityBytes
	result.Used = fl.Used()
	result.Free = fl.Free()
	result.LiveRuns = len(live)
	fl.Walk(func(index, count int) bool {
		result.FreeBlocks++
		result.LargestFree = max(result.LargestFree, count)
		return true
	})
	result.Stats = fl.Stats()
	result.Fingerprint = strconv.FormatUint(fl.Fingerprint(), 16)
	return result, nil
}

// checkRun verifies that every slot of r still carries its stamp.
func checkRun(fl *freelist.Freelist[record], r run) error {
	for pos, rec := range fl.Slice(r.index, r.n) {
		if rec.id != r.id || rec.run != uint32(r.n) || rec.pos != uint32(pos) {
			return errors.AssertionFailedf("run at %d: slot %d holds %+v, want id %d", r.index, pos, rec, r.id)
		}
	}
	return nil
}
