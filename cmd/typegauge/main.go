package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/typegauge/typegauge/internal/config"
	"github.com/typegauge/typegauge/internal/gen"
	"github.com/typegauge/typegauge/internal/gen/gemini"
	"github.com/typegauge/typegauge/internal/gentypes"
	"github.com/typegauge/typegauge/internal/results"
	"github.com/typegauge/typegauge/internal/run"
	"github.com/typegauge/typegauge/internal/version"
	"github.com/typegauge/typegauge/pkg/classify"
	"github.com/typegauge/typegauge/pkg/dataset"
	"github.com/typegauge/typegauge/pkg/redact"
	"github.com/typegauge/typegauge/pkg/registry"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version", "--version":
		fmt.Println(version.Current)
		return
	case "baseline", "comparative", "custom-only", "mixed":
		os.Exit(runEval(ctx, os.Args[1], os.Args[2:]))
	case "generate":
		os.Exit(runGenerate(ctx, os.Args[2:]))
	case "clear-types":
		os.Exit(runClearTypes(ctx, os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

type evalFlags struct {
	typesDir     string
	descriptions string
	typesFile    string
	timestamp    string
	resultsDir   string
	tag          string
	nameFilter   string
	dryRun       bool
	workers      int
	rateLimitRPS float64
}

func (ef *evalFlags) register(fs *flag.FlagSet, limits config.Limits) {
	fs.StringVar(&ef.typesDir, "types-dir", "generated_types", "Directory holding generated-types files")
	fs.StringVar(&ef.descriptions, "descriptions", "1", "Comma-separated description numbers to evaluate")
	fs.StringVar(&ef.typesFile, "types-file", "", "Explicit generated-types file (overrides -types-dir/-descriptions)")
	fs.StringVar(&ef.timestamp, "timestamp", "", "Pin a generated-types file version (YYYYMMDD_HHMMSS)")
	fs.StringVar(&ef.resultsDir, "results-dir", "results", "Directory for run artifacts; empty disables persistence")
	fs.StringVar(&ef.tag, "tag", "", "Dataset tag for artifact filenames (default: derived from input files)")
	fs.StringVar(&ef.nameFilter, "name-filter", "", "Only register generated types whose name matches this regexp")
	fs.BoolVar(&ef.dryRun, "dry-run", false, "Validate and diff generated types without writing to the registry")
	fs.IntVar(&ef.workers, "workers", limits.Workers, "Concurrent profiling workers (env: TYPEGAUGE_WORKERS)")
	fs.Float64Var(&ef.rateLimitRPS, "rate-limit-rps", limits.RateLimitRPS, "Global request rate limit, 0 disables (env: TYPEGAUGE_RATE_LIMIT_RPS)")
}

func runEval(ctx context.Context, mode string, args []string) int {
	limits, err := config.LoadLimits()
	if err != nil {
		return configError(err)
	}
	endpoints, err := config.LoadEndpoints()
	if err != nil {
		return configError(err)
	}

	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var ef evalFlags
	ef.register(fs, limits)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	files := fs.Args()
	if len(files) == 0 {
		_, _ = fmt.Fprintf(os.Stderr, "%s requires at least one dataset CSV file\n", mode)
		return 2
	}

	profileClient, registryClient, err := buildClients(endpoints, limits)
	if err != nil {
		return configError(err)
	}

	mgrOpts := registry.Options{DryRun: ef.dryRun}
	if ef.nameFilter != "" {
		re, err := regexp.Compile(ef.nameFilter)
		if err != nil {
			return configError(fmt.Errorf("invalid -name-filter: %w", err))
		}
		mgrOpts.NameFilter = re
	}

	tag := ef.tag
	tags := gentypes.TagCandidates(files)
	if tag == "" && len(tags) > 0 {
		tag = tags[0]
	}

	orch, err := run.New(run.Options{
		Client:         profileClient,
		Registry:       registry.NewManager(registryClient, mgrOpts),
		Reloader:       registryClient,
		Results:        results.Store{Dir: ef.resultsDir},
		Tag:            tag,
		Workers:        ef.workers,
		RateLimitRPS:   ef.rateLimitRPS,
		ProfileTimeout: limits.ProfileTimeout(),
		OnProgress: func(done, total int) {
			_, _ = fmt.Fprintf(os.Stderr, "progress: %d/%d\n", done, total)
		},
	})
	if err != nil {
		return configError(err)
	}

	var report *run.Report
	switch mode {
	case "baseline":
		report, err = orch.Baseline(ctx, files)
	default:
		variants, verr := resolveVariants(ef, tags)
		if verr != nil {
			return configError(verr)
		}
		switch mode {
		case "comparative":
			report, err = orch.Comparative(ctx, files, variants)
		case "custom-only":
			report, err = orch.CustomOnly(ctx, files, variants)
		case "mixed":
			report, err = orch.Mixed(ctx, files, variants)
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s run failed: %s\n", mode, redact.Secrets(err.Error()))
		return 1
	}
	printSummary(report)
	return 0
}

// resolveVariants maps the requested description numbers to generated-types
// files. A number with no resolvable file still yields a variant; the
// orchestrator records it as aborted without failing the run.
func resolveVariants(ef evalFlags, tags []string) ([]run.Variant, error) {
	if ef.typesFile != "" {
		name := strings.TrimSuffix(filepath.Base(ef.typesFile), filepath.Ext(ef.typesFile))
		return []run.Variant{{Name: name, TypesFile: ef.typesFile}}, nil
	}

	nums, err := parseDescriptions(ef.descriptions)
	if err != nil {
		return nil, err
	}
	variants := make([]run.Variant, 0, len(nums))
	for _, n := range nums {
		v := run.Variant{Name: fmt.Sprintf("description%d", n)}
		if path, err := gentypes.Find(ef.typesDir, tags, n, ef.timestamp); err == nil {
			v.TypesFile = path
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func parseDescriptions(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid description number %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no description numbers given")
	}
	return out, nil
}

func printSummary(report *run.Report) {
	if report.Baseline != nil {
		m := report.Baseline.Metrics
		fmt.Printf("baseline: accuracy=%.3f precision=%.3f recall=%.3f f1=%.3f columns=%d excluded=%d\n",
			m.Accuracy, m.Precision, m.Recall, m.F1, m.TotalColumns, m.ExcludedColumns)
	}
	for _, vr := range report.Variants {
		if vr.Error != "" {
			fmt.Printf("%s: aborted: %s\n", vr.Name, vr.Error)
			continue
		}
		m := vr.Phase.Metrics
		fmt.Printf("%s: accuracy=%.3f precision=%.3f recall=%.3f f1=%.3f created=%d skipped=%d failed=%d\n",
			vr.Name, m.Accuracy, m.Precision, m.Recall, m.F1, vr.Created, vr.Skipped, vr.Failed)
		if vr.Delta != nil {
			fmt.Printf("%s: delta accuracy=%+.3f precision=%+.3f recall=%+.3f f1=%+.3f\n",
				vr.Name, vr.Delta.Accuracy, vr.Delta.Precision, vr.Delta.Recall, vr.Delta.F1)
		}
	}
}

func runGenerate(ctx context.Context, args []string) int {
	limits, err := config.LoadLimits()
	if err != nil {
		return configError(err)
	}

	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		inputsPath     string
		outDir         string
		descriptions   string
		maxRetries     int
		requestTimeout time.Duration
	)
	fs.StringVar(&inputsPath, "inputs", "", "Generation-inputs CSV (required)")
	fs.StringVar(&outDir, "out", "generated_types", "Output directory for generated-types files")
	fs.StringVar(&descriptions, "descriptions", "", "Comma-separated description numbers (default: all present in -inputs)")
	fs.IntVar(&maxRetries, "max-retries", 3, "Max retries per column for transient failures")
	fs.DurationVar(&requestTimeout, "request-timeout", 60*time.Second, "Per-column generation timeout")
	workers := fs.Int("workers", limits.Workers, "Concurrent generation workers (env: TYPEGAUGE_WORKERS)")
	rateLimitRPS := fs.Float64("rate-limit-rps", limits.RateLimitRPS, "Global request rate limit, 0 disables")
	model := fs.String("gemini-model", strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "Gemini model name (env: GEMINI_MODEL)")
	baseURL := fs.String("gemini-base-url", strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")), "Gemini API base URL override (env: GEMINI_BASE_URL)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	files := fs.Args()
	if inputsPath == "" || len(files) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "generate requires -inputs and at least one dataset CSV file")
		return 2
	}

	inputs, err := gen.LoadInputs(inputsPath)
	if err != nil {
		return configError(err)
	}
	nums := inputs.DescriptionNumbers()
	if descriptions != "" {
		nums, err = parseDescriptions(descriptions)
		if err != nil {
			return configError(err)
		}
	}

	generator, err := gemini.New(ctx, gemini.Config{
		APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:   *model,
		BaseURL: *baseURL,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gemini config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	wrote := 0
	for _, file := range files {
		ds, err := dataset.Load(file)
		if err != nil {
			logger.Printf("generate: skipping %s: %v", file, err)
			continue
		}
		tags := gentypes.TagCandidates([]string{file})
		tag := ds.Name
		if len(tags) > 0 {
			tag = tags[0]
		}
		for _, n := range nums {
			reqs := inputs.Requests(n, ds)
			if len(reqs) == 0 {
				continue
			}
			types, err := gen.Run(ctx, generator, reqs, gen.RunOptions{
				Workers:        *workers,
				MaxRetries:     maxRetries,
				RateLimitRPS:   *rateLimitRPS,
				RequestTimeout: requestTimeout,
				Logger:         logger,
			})
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "generate failed: %s\n", redact.Secrets(err.Error()))
				return 1
			}
			path, err := gentypes.Save(outDir, tag, n, types, time.Now())
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "generate failed: %s\n", redact.Secrets(err.Error()))
				return 1
			}
			logger.Printf("generate: wrote %s (%d types)", path, len(types))
			wrote++
		}
	}
	if wrote == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "generate produced no output: no inputs matched the dataset columns")
		return 1
	}
	return 0
}

func runClearTypes(ctx context.Context, args []string) int {
	limits, err := config.LoadLimits()
	if err != nil {
		return configError(err)
	}
	endpoints, err := config.LoadEndpoints()
	if err != nil {
		return configError(err)
	}

	fs := flag.NewFlagSet("clear-types", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	scope := fs.String("scope", "all", "Which entries to remove: all (every custom type) or session")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	_, registryClient, err := buildClients(endpoints, limits)
	if err != nil {
		return configError(err)
	}
	mgr := registry.NewManager(registryClient, registry.Options{})

	var sc registry.Scope
	switch *scope {
	case "all":
		sc = registry.ScopeAll
	case "session":
		// A fresh process has no session-created set; kept for symmetry.
		sc = registry.ScopeSession
	default:
		_, _ = fmt.Fprintf(os.Stderr, "invalid -scope %q (want all or session)\n", *scope)
		return 2
	}

	if err := mgr.Clear(ctx, sc); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "clear-types failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	if err := registryClient.ReloadSemanticTypes(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "clear-types: reload failed: %s\n", redact.Secrets(err.Error()))
	}
	return 0
}

func buildClients(endpoints config.Endpoints, limits config.Limits) (profile, reg *classify.Client, err error) {
	mk := func(baseURL string) (*classify.Client, error) {
		return classify.NewClient(classify.Config{
			BaseURL:         baseURL,
			Token:           endpoints.Token,
			MaxColumns:      limits.MaxColumns,
			MaxRows:         limits.MaxRows,
			Unbounded:       limits.Unbounded,
			ProfileTimeout:  limits.ProfileTimeout(),
			RegistryTimeout: limits.RegistryTimeout(),
		})
	}
	profile, err = mk(endpoints.ClassifyURL)
	if err != nil {
		return nil, nil, err
	}
	if endpoints.RegistryURL == endpoints.ClassifyURL {
		return profile, profile, nil
	}
	reg, err = mk(endpoints.RegistryURL)
	if err != nil {
		return nil, nil, err
	}
	return profile, reg, nil
}

func configError(err error) int {
	_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
	return 2
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `typegauge: evaluates generated semantic-type definitions against ground-truth datasets

Usage:
  typegauge <command> [flags] <dataset.csv> [...]

Commands:
  baseline     Score the built-in classifiers against the baseline truth track
  comparative  Baseline plus each description variant, with per-metric deltas
  custom-only  Evaluate description variants with only custom types active
  mixed        Evaluate description variants with built-in types also active
  generate     Generate candidate types from a generation-inputs CSV (Gemini)
  clear-types  Remove custom types from the registry
  version      Print the release version

Environment:
  TYPEGAUGE_SERVICE_URL      Classification service base URL (default http://localhost:8081/api)
  TYPEGAUGE_SERVICE_TOKEN    Bearer token for the service
  TYPEGAUGE_ENDPOINTS_FILE   YAML file naming classify/registry base URLs
  TYPEGAUGE_MAX_COLUMNS      Column cap per profiling call (default 300)
  TYPEGAUGE_MAX_ROWS         Row cap per profiling call (default 1000)
  TYPEGAUGE_UNBOUNDED        Disable the caps entirely
  TYPEGAUGE_WORKERS          Concurrent profiling workers (default 10)
  GEMINI_API_KEY             Gemini API key (generate only)
  GEMINI_MODEL               Gemini model name (generate only)

`)
}
