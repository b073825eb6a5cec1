// svscheck checks that the singing-voice-synthesis model configurations of training recipes
// build models whose outputs follow the shape contract of their category.
//
// Usage:
//
//	svscheck [flags] <recipes directory or config file>...
//
// Directories are searched for YAML files in `model` directories, and the category of each
// configuration (standard, residual_f0 or postfilter) is taken from the training stage
// directory it is found in (train, train_resf0 or train_postfilter).
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/svscheck/internal/discover"
	"github.com/gomlx/svscheck/internal/runner"
	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/ml/shapecheck"
)

var (
	flagBatchSize = flag.Int("batch", shapecheck.DefaultBatchSize, "Batch size of the synthetic inputs.")
	flagTimeSteps = flag.Int("time", shapecheck.DefaultTimeSteps, "Number of frames of the synthetic inputs.")
	flagSeed      = flag.Int64("seed", -1, "Seed for the model weights and the synthetic inputs. "+
		"If negative, batch*time is used.")
	flagParallelism = flag.Int("parallelism", runtime.NumCPU(), "Maximum number of configurations "+
		"checked in parallel. 0 checks them sequentially, -1 has no limit.")
	flagVariableLengths = flag.Bool("variable_lengths", false, "Use padded samples of different lengths "+
		"in the synthetic batch, instead of all samples having the full number of frames.")
	flagDummyLF0 = flag.Bool("dummy_lf0", true, "Replace the lf0 normalization fields of residual-F0 "+
		"configurations with dummy values, since they are usually only known after training statistics are collected.")
	flagCategory = flag.String("category", "", "If set, check all configurations with this category's "+
		"contract: standard, residual_f0 or postfilter.")
	flagTargets  = flag.Bool("targets", false, "List the registered model targets and exit.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while checking.")
	flagNoColor  = flag.Bool("nocolor", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if *flagTargets {
		writeTargets(os.Stdout)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing recipes directory or configuration files to check. See 'svscheck -help'")
		os.Exit(1)
	}
	category := modelconfig.CategoryUnknown
	if *flagCategory != "" {
		var found bool
		category, found = modelconfig.CategoryFromName(*flagCategory)
		if !found || category == modelconfig.CategoryDiscriminator {
			klog.Errorf("Invalid -category=%q, valid values are standard, residual_f0 and postfilter", *flagCategory)
			os.Exit(1)
		}
	}

	checker, err := newChecker(*flagBatchSize, *flagTimeSteps, *flagSeed)
	if err != nil {
		klog.Errorf("%v", err)
		os.Exit(1)
	}
	checker.VariableLengths(*flagVariableLengths).DummyLF0(*flagDummyLF0)

	entries := must.M1(discover.Find(args...))
	if len(entries) == 0 {
		klog.Errorf("No model configurations found in %v", args)
		os.Exit(1)
	}
	options := runner.Options{
		Checker:     checker,
		Parallelism: *flagParallelism,
		Category:    category,
	}
	if *flagProgress {
		options.Progress = os.Stderr
	}
	results := runner.Run(entries, options)
	if numFailed := writeResults(os.Stdout, results); numFailed > 0 {
		os.Exit(1)
	}
	fmt.Println("All shape contracts hold.")
}

// newChecker creates the checker for the -batch, -time and -seed flags. A negative seed leaves
// the checker's default.
func newChecker(batchSize, timeSteps int, seed int64) (*shapecheck.Checker, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("Invalid -batch=%d, it must be > 0", batchSize)
	}
	if timeSteps <= 0 {
		return nil, errors.Errorf("Invalid -time=%d, it must be > 0", timeSteps)
	}
	checker := shapecheck.New().BatchSize(batchSize).TimeSteps(timeSteps)
	if seed >= 0 {
		checker.Seed(uint64(seed))
	}
	return checker, nil
}
