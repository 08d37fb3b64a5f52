package compiler

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/varkeep/internal/ir"
)

// LoadDefinitions reads definitions from a single file or from every
// .cue, .yaml and .yml file below a directory. Files are read in lexical
// order; definitions keep that order. Duplicate keys across files are left
// for ValidateAll to report.
func LoadDefinitions(path string) ([]ir.Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("definitions path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		if files, err = FindDefinitionFiles(path); err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no definition files found in %s", path)
		}
	}

	var defs []ir.Definition
	for _, file := range files {
		fileDefs, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	if defs == nil {
		defs = []ir.Definition{}
	}
	return defs, nil
}

// LoadFile compiles one definitions file, dispatching on its extension.
func LoadFile(path string) ([]ir.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return CompileCUE(data, path)
	case ".yaml", ".yml":
		return DecodeYAML(data, path)
	default:
		return nil, fmt.Errorf("%s: unsupported definitions format (want .cue, .yaml or .yml)", path)
	}
}

// FindDefinitionFiles walks dir and returns every definitions file path,
// sorted.
func FindDefinitionFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".cue", ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}
