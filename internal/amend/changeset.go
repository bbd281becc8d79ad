// Package amend feeds plan amendments into a running session: change-set
// files dropped into an inbox directory, and free-text requests translated
// by a generator.
package amend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"sleuth/internal/plan"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported change set format")

// IsChangeSetFile reports whether name carries a change-set extension.
func IsChangeSetFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ParseChangeSet decodes a change set, choosing the format by extension.
// Unknown fields are rejected so a typo never silently drops a change.
func ParseChangeSet(name string, data []byte) (plan.ChangeSet, error) {
	var cs plan.ChangeSet
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cs); err != nil {
			return plan.ChangeSet{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(name), err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cs); err != nil {
			return plan.ChangeSet{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(name), err)
		}
	default:
		return plan.ChangeSet{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(name))
	}
	if len(cs.Changes) == 0 {
		return plan.ChangeSet{}, fmt.Errorf("%s: %w", filepath.Base(name), plan.ErrEmptyChange)
	}
	return cs, nil
}
