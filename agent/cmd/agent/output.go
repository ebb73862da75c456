package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/obsidianstack/pagescore/pkg/export"
	"github.com/obsidianstack/pagescore/pkg/types"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatProm = "prom"
)

func writeReports(w io.Writer, format string, reports []*types.Report, colored bool) error {
	switch format {
	case formatText:
		return writeText(w, reports, colored)
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case formatProm:
		return export.WriteProm(w, reports)
	default:
		return fmt.Errorf("unknown format %q (want text, json or prom)", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type palette struct {
	pass, average, fail, title *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		pass:    color.New(color.FgGreen),
		average: color.New(color.FgYellow),
		fail:    color.New(color.FgRed),
		title:   color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.pass, p.average, p.fail, p.title} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) score(score int) *color.Color {
	switch types.RatingOf(score) {
	case types.RatingPass:
		return p.pass
	case types.RatingAverage:
		return p.average
	default:
		return p.fail
	}
}

// writeText prints one block per report. The score column is last so color
// escapes do not disturb alignment.
func writeText(w io.Writer, reports []*types.Report, colored bool) error {
	p := newPalette(colored)
	for i, rep := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		name := rep.URL
		if name == "" {
			name = rep.Source
		} else if rep.Source != "" && rep.Source != rep.URL {
			name += " (" + rep.Source + ")"
		}
		fmt.Fprintln(w, p.title.Sprint(name))

		if rep.Error != nil {
			fmt.Fprintf(w, "  %s\n", p.fail.Sprintf("error: %s: %s", rep.Error.Kind, rep.Error.Message))
			continue
		}
		s := rep.Summary
		fmt.Fprintf(w, "  %d tasks, %d long, %.1f ms busy over %.1f ms\n",
			s.TaskCount, s.LongTaskCount, s.TotalBusyMs, s.TraceDurationMs)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, res := range rep.Results {
			value := res.DisplayValue
			if res.Failed() {
				value = fmt.Sprintf("%s: %s", res.Error.Kind, res.Error.Message)
			} else if value == "" {
				value = fmt.Sprint(res.RawValue)
			}
			score := "-"
			if res.Score != nil {
				score = p.score(*res.Score).Sprint(*res.Score)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", res.ID, value, score)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
