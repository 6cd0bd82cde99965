package filestore

import (
	"path/filepath"
	"strings"

	"ba-agent-core/internal/errors"
	"ba-agent-core/pkg/types"
)

// resolvePath maps a (categoryDir, fileID) pair onto a filesystem path,
// enforcing its three-step path-safety check: reject dangerous
// file_ids, resolve the final path, and verify it is a strict
// prefix-descendant of the category directory.
func resolvePath(categoryDir, fileID string) (string, error) {
	if err := types.ValidateFileID(fileID); err != nil {
		return "", errors.Wrap(errors.KindPathViolation, "invalid file id", err)
	}

	joined := filepath.Join(categoryDir, fileID)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", errors.Wrap(errors.KindPathViolation, "could not resolve path", err)
	}

	absCategoryDir, err := filepath.Abs(categoryDir)
	if err != nil {
		return "", errors.Wrap(errors.KindPathViolation, "could not resolve category dir", err)
	}

	rel, err := filepath.Rel(absCategoryDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New(errors.KindPathViolation, "file id escapes its category directory")
	}

	return resolved, nil
}
