// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/deploy/pkg/ml/loop"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
var ProgressbarStyle = progressbar.ThemeASCII

// Output where the progress bar is drawn.
var Output io.Writer = os.Stdout

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "deploy.ui.commandline.progressBar"

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// progressBar holds a progressbar being displayed.
type progressBar struct {
	bar            *progressbar.ProgressBar
	extraMetricFns []ExtraMetricFn

	// lipgloss-based asynchronous display of stats, drawn above the bar.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup
}

type progressBarUpdate struct {
	amount int
	step   string
	median time.Duration
}

// AttachProgressBar creates a commandline progress bar and attaches it to the Loop, so that
// every time the Loop is run, it will display a progress bar with the progression and the median step duration.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(l *loop.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		extraMetricFns: extraMetrics,
		termenv:        termenv.NewOutput(Output),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	l.OnStart(ProgressBarName, 0, pBar.onStart)
	l.OnStep(ProgressBarName, 0, pBar.onStep)
	l.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

func (pBar *progressBar) onStart(l *loop.Loop) error {
	// A previous Run that stopped early never reached onEnd.
	pBar.stopUpdates()
	pBar.bar = progressbar.NewOptions(l.Loops(),
		progressbar.OptionSetDescription(fmt.Sprintf("%8s", l.Name)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(Output),
	)
	pBar.isFirstOutput = true
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so the loop is never blocked.
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates(pBar.updates)
	return nil
}

func (pBar *progressBar) onStep(l *loop.Loop, iteration int) error {
	pBar.updates <- progressBarUpdate{
		amount: 1,
		step:   fmt.Sprintf("%s of %s", humanize.Comma(int64(iteration+1)), humanize.Comma(int64(l.Loops()))),
		median: l.MedianStepDuration(),
	}
	return nil
}

func (pBar *progressBar) onEnd(_ *loop.Loop) error {
	pBar.stopUpdates()
	_, _ = fmt.Fprintln(Output)
	return nil
}

func (pBar *progressBar) stopUpdates() {
	if pBar.updates == nil {
		return
	}
	close(pBar.updates)
	pBar.updates = nil
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
}

// drawUpdates runs asynchronously, coalescing updates that arrive faster than the terminal is refreshed.
func (pBar *progressBar) drawUpdates(updates <-chan progressBarUpdate) {
	defer pBar.asyncUpdatesDone.Done()
	for update := range updates {
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Step", update.step)
		pBar.statsTable.Row("Median step duration", FormatDuration(update.median))
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			// Table rows, its 2 borders and the progress bar lines.
			numLinesToBackup := 2 + 2 + len(pBar.extraMetricFns) + 2
			pBar.termenv.CursorPrevLine(numLinesToBackup)
		}
		pBar.isFirstOutput = false
		_, _ = fmt.Fprintln(Output, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount)
		_, _ = fmt.Fprintln(Output)
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}
