// Package discover finds the model configuration files of training recipes.
//
// Model configurations live in `model` directories of the recipes' `conf` trees, and the
// training stage they belong to determines the shape contract they follow:
//
//	conf/train/model/*.yaml                              -> standard
//	conf/train/{timelag,duration,acoustic}/model/*.yaml  -> standard
//	conf/train_resf0/model/*.yaml                        -> residual-F0
//	conf/train_resf0/acoustic/model/*.yaml               -> residual-F0
//	conf/train_postfilter/model/*.yaml                   -> post-filter
package discover

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/svscheck/ml/modelconfig"
	"github.com/gomlx/svscheck/types"
)

// Entry is a model configuration file found.
type Entry struct {
	Path string

	// Category inferred from the path, or modelconfig.CategoryUnknown if the path doesn't tell.
	Category modelconfig.Category
}

// modelDir is the name of the directories holding model configurations.
const modelDir = "model"

// stageCategories maps the training stage directories to the category of their models.
var stageCategories = map[string]modelconfig.Category{
	"train":            modelconfig.CategoryStandard,
	"train_resf0":      modelconfig.CategoryResidualF0,
	"train_postfilter": modelconfig.CategoryPostFilter,
}

// CategoryFromPath returns the category implied by the training stage directory in filePath:
// the closest ancestor directory named train, train_resf0 or train_postfilter.
// It returns modelconfig.CategoryUnknown if there is none.
func CategoryFromPath(filePath string) modelconfig.Category {
	parts := strings.Split(filepath.ToSlash(filepath.Dir(filePath)), "/")
	for _, part := range slices.Backward(parts) {
		if category, found := stageCategories[part]; found {
			return category
		}
	}
	return modelconfig.CategoryUnknown
}

// IsModelConfig returns whether filePath is a YAML file in a `model` directory.
func IsModelConfig(filePath string) bool {
	ext := filepath.Ext(filePath)
	return (ext == ".yaml" || ext == ".yml") && filepath.Base(filepath.Dir(filePath)) == modelDir
}

// Find returns the model configurations under the given roots, sorted by path.
//
// Directories are walked recursively, and only YAML files in `model` directories are returned.
// Files given explicitly are always returned.
func Find(roots ...string) ([]Entry, error) {
	paths := types.MakeSet[string]()
	for _, root := range roots {
		err := filepath.WalkDir(root, func(filePath string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			if filePath == root || IsModelConfig(filePath) {
				paths.Insert(filepath.Clean(filePath))
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to search for model configurations in %q", root)
		}
	}
	entries := make([]Entry, 0, len(paths))
	for _, filePath := range types.SortedKeys(paths) {
		entries = append(entries, Entry{Path: filePath, Category: CategoryFromPath(filePath)})
	}
	klog.V(1).Infof("found %d model configurations in %v", len(entries), roots)
	return entries, nil
}
