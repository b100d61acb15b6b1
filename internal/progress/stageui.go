package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// StageUI draws one bar per pipeline stage, filled by the number of
// markers found in the log. Without a terminal it prints one line per stage.
type StageUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
}

// NewStageUI creates a stage UI on stderr.
func NewStageUI() *StageUI {
	return newStageUI(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

// NewStageUITo creates a plain-text stage UI writing to w.
func NewStageUITo(w io.Writer) *StageUI {
	return newStageUI(w, false)
}

func newStageUI(w io.Writer, isTerminal bool) *StageUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(w),
			mpb.WithRefreshRate(150*time.Millisecond),
			mpb.WithWidth(40),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &StageUI{progress: p, out: w, isTerminal: isTerminal}
}

// IsTerminal reports whether bars are rendered.
func (u *StageUI) IsTerminal() bool { return u.isTerminal }

// AddStage renders a stage with found of total markers seen.
func (u *StageUI) AddStage(name string, found, total int) {
	if !u.isTerminal {
		mark := " "
		if found == total {
			mark = "x"
		}
		fmt.Fprintf(u.out, "[%s] %-8s %d/%d\n", mark, name, found, total)
		return
	}

	bar := u.progress.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
			decor.OnComplete(decor.Name(""), "  complete"),
		),
	)
	bar.SetCurrent(int64(found))
	if found < total {
		// leave the bar at its partial position
		bar.Abort(false)
	}
}

// Wait flushes all bars.
func (u *StageUI) Wait() {
	u.progress.Wait()
}
