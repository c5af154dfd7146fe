// internal/infra/filequeue/files.go
package filequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
)

// writeJSON replaces path atomically: the payload is written to a hidden temp file in the same
// directory and renamed over the target.
func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperror.Wrap(apperror.KindSerialization, err, "failed to encode %s", filepath.Base(path))
	}
	payload = append(payload, '\n')

	dir, name := filepath.Split(path)
	tmp := filepath.Join(dir, "."+name+tmpSuffix)
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

func readApproval(path string) (*approval.ApprovalData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data approval.ApprovalData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperror.Wrap(apperror.KindDeserialization, err, "failed to decode %s", filepath.Base(path))
	}
	return &data, nil
}

func readTrigger(path string) (*approval.WorkflowTrigger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var trigger approval.WorkflowTrigger
	if err := json.Unmarshal(raw, &trigger); err != nil {
		return nil, apperror.Wrap(apperror.KindDeserialization, err, "failed to decode %s", filepath.Base(path))
	}
	return &trigger, nil
}

// listNames returns the sorted regular file names in dir accepted by keep. A missing directory
// yields no names.
func listNames(dir string, keep func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if keep(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isJSONFile(name string) bool {
	return strings.HasSuffix(name, jsonSuffix)
}

func isRecordFile(name string) bool {
	_, ok := parseRecordFileName(name)
	return ok
}
