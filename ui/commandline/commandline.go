// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for running schedulers from the command line:
// a progress bar for loops, scheduler settings flags and pretty-printed schedules.
package commandline

import (
	"fmt"
	"math"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/support/status"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

// SprintSchedule renders the inference schedule of an initialized scheduler as a table: one row per step with the
// timestep, the cumulative alphas, the variance and the noise weight σ for the scheduler's eta.
//
// If maxRows > 0 and there are more steps, only the first and last maxRows/2 steps are shown.
func SprintSchedule(s *scheduler.Scheduler, maxRows int) (string, error) {
	tables := s.Tables()
	if tables == nil {
		return "", status.InvalidConfigurationf("scheduler %q not initialized", s.Name())
	}
	eta := s.Params().Eta
	table := newTable("Step", "Timestep", "ᾱ_t", "ᾱ_prev", "Variance", "σ")
	numSteps := len(tables.Timesteps)
	for stepIdx := 0; stepIdx < numSteps; stepIdx++ {
		if maxRows > 0 && numSteps > maxRows && stepIdx == maxRows/2 {
			table.Row("...", "", "", "", "", "")
			stepIdx = numSteps - (maxRows - maxRows/2)
		}
		timestep := tables.Timesteps[stepIdx]
		alphaProd, err := tables.AlphaCumprod(timestep)
		if err != nil {
			return "", err
		}
		alphaProdPrev, err := tables.AlphaCumprod(tables.PrevTimestep(stepIdx))
		if err != nil {
			return "", err
		}
		variance := tables.Variance[stepIdx]
		table.Row(
			fmt.Sprintf("%d", stepIdx),
			fmt.Sprintf("%d", timestep),
			fmt.Sprintf("%.6f", alphaProd),
			fmt.Sprintf("%.6f", alphaProdPrev),
			fmt.Sprintf("%.3g", variance),
			fmt.Sprintf("%.3g", eta*math.Sqrt(variance)),
		)
	}
	return table.String(), nil
}
