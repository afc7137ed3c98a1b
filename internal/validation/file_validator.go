package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bfintake/internal/infrastructure"
)

// FileValidator checks local paths handed to the offline processor
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	return &FileValidator{
		logger: infrastructure.WithComponent(logger, "file_validator"),
	}
}

// ExpandInputs resolves the processor's positional arguments. Files are
// validated and kept in order; a directory contributes its regular,
// non-hidden files sorted by name. Subdirectories are not descended into.
func (v *FileValidator) ExpandInputs(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			v.logger.Error("Input does not exist", slog.String("path", p))
			return nil, fmt.Errorf("input %s does not exist", p)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			if err := v.ValidateFile(p); err != nil {
				return nil, err
			}
			out = append(out, p)
			continue
		}

		files, err := v.listDirectory(p)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			v.logger.Warn("No files found in input directory", slog.String("directory", p))
		}
		out = append(out, files...)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	return out, nil
}

func (v *FileValidator) listDirectory(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := v.ValidateFile(path); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	sort.Strings(files)

	v.logger.Debug("Input directory expanded",
		slog.String("directory", dir),
		slog.Int("files_found", len(files)))
	return files, nil
}

// UniqueKeys fails when two inputs would land on the same cache key.
func (v *FileValidator) UniqueKeys(paths []string) error {
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		key := filepath.Base(p)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("inputs %s and %s share the cache key %q", prev, p, key)
		}
		seen[key] = p
	}
	return nil
}

// ValidateOutputDirectory ensures output directory exists or can be created
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	// Verify it's writable by creating a probe file
	probe, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// ValidateFile checks that path is a readable, non-empty regular file
func (v *FileValidator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("File does not exist", slog.String("file", path))
		return fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		v.logger.Error("Path is not a regular file", slog.String("path", path))
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file %s is empty", path)
	}

	file, err := os.Open(path)
	if err != nil {
		v.logger.Error("File is not readable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return fmt.Errorf("file %s is not readable: %w", path, err)
	}
	file.Close()

	v.logger.Debug("File validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}
