// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"flag"
	"os"
	"strings"

	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// CreateSettingsFlag creates a string flag with the given name, to be parsed later by ParseSettings.
// Its usage lists the scheduler parameters and their current values in params.
func CreateSettingsFlag(params scheduler.Params, name string) *string {
	var parts []string
	parts = append(parts,
		`Set scheduler parameters: it takes a ';' separated list of parameters in the form key=value, `+
			`where keys are the JSON names of the scheduler configuration.`,
		`It also accepts "file:<path>" entries: each non-empty line of the file not starting with "#" is a setting.`,
		`Current values:`)
	parts = append(parts, SprintSettings(params))
	return flag.String(name, "", strings.Join(parts, "\n"))
}

// ParseSettings applies the settings to params. See CreateSettingsFlag for the format.
func ParseSettings(params *scheduler.Params, settings string) error {
	var expanded []string
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		path, isFile := strings.CutPrefix(setting, "file:")
		if !isFile {
			expanded = append(expanded, setting)
			continue
		}
		lines, err := readSettingsFile(path)
		if err != nil {
			return err
		}
		expanded = append(expanded, lines...)
	}
	return params.ParseSettings(strings.Join(expanded, ";"))
}

func readSettingsFile(path string) ([]string, error) {
	path, err := fsutil.ReplaceTilde(path)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings file %q", path)
	}
	var lines []string
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// SprintSettings returns a table with the parameters and their values.
func SprintSettings(params scheduler.Params) string {
	table := newTable("Parameter", "Value")
	for _, kv := range params.Settings() {
		table.Row(kv[0], kv[1])
	}
	return table.String()
}
