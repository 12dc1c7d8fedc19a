package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/leslie-fei/freelist"
)

var (
	// Global flags
	verbose    bool
	jsonOut    bool
	memoryName string
	memoryPath string
)

var rootCmd = &cobra.Command{
	Use:   "freelistctl",
	Short: "Exercise and inspect the freelist allocator",
	Long: `freelistctl drives a freelist allocator over one of its memory
backends. It reports header and growth parameters and runs seeded
allocate/release workloads that print the resulting layout.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log allocator events as JSON to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&memoryName, "memory", "heap", "Backing memory: heap, go, shm or mmap")
	rootCmd.PersistentFlags().StringVar(&memoryPath, "path", "", "File backing an mmap arena, anonymous when empty")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger returns a debug JSON logger on w when verbose is set.
func newLogger(w io.Writer) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newPrinter formats numbers with digit grouping.
func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func parseMemoryType(name string) (freelist.MemoryType, error) {
	for _, typ := range []freelist.MemoryType{freelist.HEAP, freelist.GO, freelist.SHM, freelist.MMAP} {
		if strings.EqualFold(name, typ.String()) {
			return typ, nil
		}
	}
	return 0, errors.Wrapf(freelist.ErrUnknownMemoryType, "%q", name)
}

// listConfig builds the allocator config from the global flags.
func listConfig(cmd *cobra.Command) (*freelist.Config, error) {
	typ, err := parseMemoryType(memoryName)
	if err != nil {
		return nil, err
	}
	if memoryPath != "" && typ != freelist.MMAP {
		return nil, errors.Newf("--path needs --memory mmap, got %s", typ)
	}
	config := freelist.DefaultConfig()
	config.MemoryType = typ
	config.MemoryKey = memoryPath
	config.Logger = newLogger(cmd.ErrOrStderr())
	return config, nil
}
