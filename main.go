// covernest nests compiler-generated startup code classes of OpenCover
// coverage reports under the class whose code produced them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/phobologic/covernest/internal/config"
	"github.com/phobologic/covernest/internal/discover"
	"github.com/phobologic/covernest/internal/model"
	"github.com/phobologic/covernest/internal/normalize"
	"github.com/phobologic/covernest/internal/opencover"
	"github.com/phobologic/covernest/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	outputDir     string
	inPlace       bool
	include       []string
	exclude       []string
	workers       int
	moduleWorkers int
	envFile       string
	logLevel      string
	logFormat     string
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "covernest [flags] [report.xml|dir]...",
		Short: "Nest startup code classes of OpenCover reports under their owning class",
		Long: `covernest rewrites OpenCover coverage reports so that compiler-generated
"<StartupCode$...>" classes appear nested under the class whose source they
were generated from, instead of as stray top-level classes.

Arguments are report files or directories to search for *.xml reports
(default: the current directory). Without --output-dir or --in-place nothing
is written and only the summary is printed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), cmd.Flags(), opts, args, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("covernest {{.Version}}\n")

	f := cmd.Flags()
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "write normalized reports to this directory")
	f.BoolVarP(&opts.inPlace, "in-place", "i", false, "overwrite reports that had classes renamed")
	f.StringArrayVar(&opts.include, "include", nil, "only consider reports matching this .gitignore-style pattern (repeatable)")
	f.StringArrayVar(&opts.exclude, "exclude", nil, "skip reports matching this .gitignore-style pattern (repeatable)")
	f.IntVarP(&opts.workers, "workers", "j", 0, "reports processed concurrently (0 = number of CPUs)")
	f.IntVar(&opts.moduleWorkers, "module-workers", 1, "modules of one report normalized concurrently")
	f.StringVar(&opts.envFile, "env-file", "", "environment file to load (default .env)")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	f.BoolP("version", "V", false, "show version and exit")
	cmd.MarkFlagsMutuallyExclusive("output-dir", "in-place")

	return cmd
}

// settings merges the environment configuration with flags given explicitly.
func settings(flags *pflag.FlagSet, opts options) (config.Config, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("include") {
		cfg.Include = opts.include
	}
	if flags.Changed("exclude") {
		cfg.Exclude = opts.exclude
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("module-workers") {
		cfg.ModuleWorkers = opts.moduleWorkers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func execute(ctx context.Context, flags *pflag.FlagSet, opts options, args []string, stdout, stderr io.Writer) error {
	cfg, err := settings(flags, opts)
	if err != nil {
		return err
	}
	logger := config.NewLogger(stderr, cfg.LogFormat, cfg.LogLevel)

	if len(args) == 0 {
		args = []string{"."}
	}

	inputs, err := collectInputs(args, discover.Options{Include: cfg.Include, Exclude: cfg.Exclude})
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("no coverage reports found")
	}

	if err := assignOutputs(inputs, opts); err != nil {
		return err
	}

	norm := normalize.New(
		normalize.WithLogger(logger),
		normalize.WithWorkers(cfg.ModuleWorkers),
	)

	results := processConcurrent(ctx, inputs, norm, cfg.Workers, logger)

	// Nothing is written unless every report loaded and normalized.
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}
	if written, err := writeOutputs(inputs, results, logger); err != nil {
		if len(written) > 0 {
			return fmt.Errorf("%w (already written: %s)", err, strings.Join(written, ", "))
		}
		return err
	}

	summary := &model.Summary{}
	for i, r := range results {
		if r.skipped {
			continue
		}
		summary.Reports = append(summary.Reports, r.summary)
		for _, rn := range r.renames {
			summary.Renames = append(summary.Renames, model.ReportRename{Report: inputs[i].path, Rename: rn})
		}
	}
	if len(summary.Reports) == 0 {
		return errors.New("no OpenCover reports found")
	}

	_, _ = fmt.Fprintln(stdout, toon.Encode(summary))
	return nil
}

// input is one report to process.
type input struct {
	path     string // as given or joined with the searched directory
	rel      string // layout below --output-dir
	explicit bool   // named on the command line rather than discovered
	dest     string // where to write the result; empty for a dry run
}

func collectInputs(args []string, dopts discover.Options) ([]*input, error) {
	var inputs []*input
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("report path: %w", err)
		}

		if !info.IsDir() {
			inputs = append(inputs, &input{path: arg, rel: filepath.Base(arg), explicit: true})
			continue
		}

		entries, err := discover.Reports(arg, dopts)
		if err != nil {
			return nil, fmt.Errorf("discovering reports in %s: %w", arg, err)
		}
		for _, e := range entries {
			inputs = append(inputs, &input{path: filepath.Join(arg, e.Path), rel: e.Path})
		}
	}
	return inputs, nil
}

func assignOutputs(inputs []*input, opts options) error {
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		switch {
		case opts.inPlace:
			in.dest = in.path
		case opts.outputDir != "":
			in.dest = filepath.Join(opts.outputDir, in.rel)
		default:
			continue
		}

		key, err := filepath.Abs(in.dest)
		if err != nil {
			return fmt.Errorf("resolving output path: %w", err)
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%s and %s would both be written to %s", prev, in.path, in.dest)
		}
		seen[key] = in.path
	}
	return nil
}

type result struct {
	doc     *opencover.Document
	summary model.ReportSummary
	renames []model.Rename
	skipped bool
	err     error
}

func processReport(ctx context.Context, in *input, norm *normalize.Normalizer, logger *slog.Logger) result {
	doc, err := opencover.ReadFile(in.path)
	if err != nil {
		if errors.Is(err, opencover.ErrNotOpenCover) && !in.explicit {
			logger.Warn("not an OpenCover report, skipped", "path", in.path)
			return result{skipped: true}
		}
		return result{err: fmt.Errorf("%s: %w", in.path, err)}
	}

	s := model.ReportSummary{Path: in.path, Modules: len(doc.Report.Modules)}
	for _, m := range doc.Report.Modules {
		s.Classes += len(m.Classes)
		for _, c := range m.Classes {
			if normalize.IsStartup(c.FullName) {
				s.Startup++
			}
		}
	}

	renames, err := norm.ReportParallel(ctx, doc.Report)
	if err != nil {
		return result{err: fmt.Errorf("%s: %w", in.path, err)}
	}
	s.Renamed = len(renames)

	return result{doc: doc, summary: s, renames: renames}
}

// writeOutputs writes the normalized reports in input order and returns the
// paths written before any failure. In-place runs leave untouched reports alone.
func writeOutputs(inputs []*input, results []result, logger *slog.Logger) ([]string, error) {
	var written []string
	for i, in := range inputs {
		r := results[i]
		if r.skipped || in.dest == "" || (len(r.renames) == 0 && in.dest == in.path) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(in.dest), 0o755); err != nil {
			return written, fmt.Errorf("creating output directory: %w", err)
		}
		if err := r.doc.WriteFile(in.dest); err != nil {
			return written, fmt.Errorf("writing %s: %w", in.dest, err)
		}
		logger.Info("report written", "path", in.dest, "renamed", len(r.renames))
		written = append(written, in.dest)
	}
	return written, nil
}

func processConcurrent(ctx context.Context, inputs []*input, norm *normalize.Normalizer, workers int, logger *slog.Logger) []result {
	numWorkers := workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(inputs) {
		numWorkers = len(inputs)
	}

	type indexed struct {
		index int
		res   result
	}

	work := make(chan int, len(inputs))
	results := make(chan indexed, len(inputs))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				results <- indexed{index: idx, res: processReport(ctx, inputs[idx], norm, logger)}
			}
		}()
	}

	for i := range inputs {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	ordered := make([]result, len(inputs))
	for r := range results {
		ordered[r.index] = r.res
	}
	return ordered
}
