// Package cli holds the flag handling and I/O shared by the example programs.
package cli

import (
	"fmt"
	"io"
	"os"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bcongdon/phoenix"
	"github.com/bcongdon/phoenix/internal/pkg/phxfs"
)

// BindSchedulerFlags registers the scheduler settings on fs and binds them
// into viper, where the phoenix driver reads them. Flags left unset fall
// back to the environment, the config file, then the defaults.
func BindSchedulerFlags(fs *flag.FlagSet) error {
	fs.Int("num_procs", 0, "number of processors to schedule onto (0 = all)")
	fs.Int("num_map_threads", 0, "map workers (0 = one per processor)")
	fs.Int("num_reduce_threads", 0, "reduce workers (0 = one per processor)")
	fs.Int("num_merge_threads", 0, "merge workers (0 = derived)")
	fs.Int("l1_cache_size", 64*1024, "L1 data cache size in bytes")
	fs.Float64("key_match_factor", 2, "expected values per key")
	fs.Int("reduce_tasks", 0, "reduce task count (0 = derived)")
	fs.Bool("bind_cpus", false, "pin workers to processors")
	fs.BoolP("progress", "p", false, "show a progress bar per phase")
	fs.BoolP("verbose", "v", false, "enable debug logging")
	return viper.BindPFlags(fs)
}

// Parse binds the scheduler flags on the command line flag set, parses
// os.Args, and returns the positional arguments.
func Parse() []string {
	if err := BindSchedulerFlags(flag.CommandLine); err != nil {
		log.Fatal(err)
	}
	flag.Parse()
	return flag.Args()
}

// Load reads every file matching the given locations and concatenates
// them. A location is a local path or an s3:// uri and may hold glob
// patterns; matches are read in name order. A location matching nothing is
// an os.ErrNotExist error.
func Load(locations ...string) ([]byte, error) {
	return load(locations, false)
}

// LoadLines is Load for line-oriented text: every file is newline
// terminated before the next is appended, so no record spans two files.
func LoadLines(locations ...string) ([]byte, error) {
	return load(locations, true)
}

func load(locations []string, terminateLines bool) ([]byte, error) {
	var data []byte
	for _, location := range locations {
		fs := phxfs.InferFilesystem(location)
		files, err := fs.ListFiles(location)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", location, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("loading %s: %w", location, os.ErrNotExist)
		}
		log.Debugf("%s matched %d files", location, len(files))

		for _, file := range files {
			contents, err := phxfs.ReadAll(fs, file.Name)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", file.Name, err)
			}
			if data == nil {
				data = contents
			} else {
				data = append(data, contents...)
			}
			if terminateLines && len(data) > 0 && data[len(data)-1] != '\n' {
				data = append(data, '\n')
			}
		}
	}
	return data, nil
}

// Create opens a writer at location, which may be a local path or an s3://
// uri. An empty location writes to stdout.
func Create(location string) (io.WriteCloser, error) {
	if location == "" {
		return nopCloser{os.Stdout}, nil
	}
	return phxfs.InferFilesystem(location).OpenWriter(location)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// LogStats reports the counters of one run.
func LogStats(name string, inputBytes int, stats phoenix.Stats) {
	log.WithFields(log.Fields{
		"input":        humanize.Bytes(uint64(inputBytes)),
		"map_tasks":    stats.MapTasks,
		"reduce_tasks": stats.ReduceTasks,
		"merge_rounds": stats.MergeRounds,
		"keys":         humanize.Comma(stats.IntermediateKeys),
		"emitted":      stats.Emitted,
	}).Infof("%s: map %s, reduce %s, merge %s", name, stats.MapTime, stats.ReduceTime, stats.MergeTime)
	if stats.BindFailures > 0 {
		log.Warnf("%s: %d workers ran unbound", name, stats.BindFailures)
	}
}
