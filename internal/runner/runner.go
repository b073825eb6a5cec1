// Package runner checks many model configurations in parallel, isolating their failures.
package runner

import (
	"io"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/svscheck/internal/discover"
	"github.com/gomlx/svscheck/internal/workerspool"
	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/shapecheck"
)

// Kind of outcome of a check.
type Kind int

const (
	KindPassed Kind = iota
	KindConfigError
	KindConstructionError
	KindContractViolation
	KindError
)

var kindNames = []string{"passed", "config error", "construction error", "contract violation", "error"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindPassed
	}
	var configErr *modelconfig.ConfigError
	var constructionErr *shapecheck.ConstructionError
	var violation *shapecheck.ContractViolation
	switch {
	case errors.As(err, &configErr):
		return KindConfigError
	case errors.As(err, &constructionErr):
		return KindConstructionError
	case errors.As(err, &violation):
		return KindContractViolation
	}
	return KindError
}

// Result of checking one configuration.
type Result struct {
	Entry    discover.Entry
	Report   *shapecheck.Report // nil if the check failed.
	Err      error
	Duration time.Duration
}

// Kind of the result.
func (r Result) Kind() Kind { return KindOf(r.Err) }

// Failed returns whether the check failed.
func (r Result) Failed() bool { return r.Err != nil }

// Options for Run.
type Options struct {
	// Checker to use. If nil, shapecheck.New() is used.
	Checker *shapecheck.Checker

	// Parallelism is the maximum number of configurations checked at the same time. 0 checks
	// them sequentially, and -1 doesn't limit parallelism.
	Parallelism int

	// Category, if not modelconfig.CategoryUnknown, overrides the category of every entry.
	Category modelconfig.Category

	// Progress, if not nil, is where a progress bar is displayed.
	Progress io.Writer
}

// Run checks every entry and returns the results in the same order as entries.
// A failing or panicking check doesn't affect the others.
func Run(entries []discover.Entry, options Options) []Result {
	checker := options.Checker
	if checker == nil {
		checker = shapecheck.New()
	}
	var bar *progressbar.ProgressBar
	if options.Progress != nil {
		bar = progressbar.NewOptions(len(entries),
			progressbar.OptionSetWriter(options.Progress),
			progressbar.OptionSetDescription("checking"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("configs"),
			progressbar.OptionShowIts(),
			progressbar.OptionClearOnFinish(),
		)
	}

	results := make([]Result, len(entries))
	pool := workerspool.New().SetMaxParallelism(options.Parallelism)
	pool.Run(len(entries), func(ii int) {
		results[ii] = checkEntry(checker, entries[ii], options.Category)
		if bar != nil {
			_ = bar.Add(1)
		}
	})
	if bar != nil {
		_ = bar.Finish()
	}
	return results
}

// checkEntry loads and checks one configuration file.
func checkEntry(checker *shapecheck.Checker, entry discover.Entry, category modelconfig.Category) (result Result) {
	result.Entry = entry
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()
	if category == modelconfig.CategoryUnknown {
		category = entry.Category
	}
	err := exceptions.TryCatch[error](func() {
		cfg, err := modelconfig.Load(entry.Path)
		if err != nil {
			result.Err = err
			return
		}
		result.Report, result.Err = checker.Check(cfg, category)
	})
	if err != nil {
		result.Report, result.Err = nil, errors.WithMessagef(err, "check of %q panicked", entry.Path)
	}
	if result.Err != nil {
		klog.V(1).Infof("%s: %s: %v", entry.Path, result.Kind(), result.Err)
	}
	return
}

// Summary counts the results of each kind.
func Summary(results []Result) map[Kind]int {
	counts := make(map[Kind]int)
	for _, result := range results {
		counts[result.Kind()]++
	}
	return counts
}
