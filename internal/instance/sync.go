package instance

import (
	"context"
	"fmt"
	"os"

	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/ledger"
	"github.com/shore-hpc/shore/internal/results"
)

// Transfer groups pulled back by Sync.
const (
	GroupResults = "results"
	GroupDFT     = "dft"
	GroupScreen  = "screen"
	GroupCNBSE   = "cnbse"
)

// GroupResult is the outcome of one transfer group.
type GroupResult struct {
	Name  string
	Files int
	Err   error
}

// SyncReport collects the transfer groups of one Sync.
type SyncReport struct {
	Instance string
	Stages   StageReport
	Groups   []GroupResult
}

// Failed returns how many groups failed.
func (r *SyncReport) Failed() int {
	n := 0
	for _, g := range r.Groups {
		if g.Err != nil {
			n++
		}
	}
	return n
}

// Sync refreshes the stage state and pulls back spectra, DFT inputs and
// outputs, and the SCREEN and CNBSE logs. Each group is attempted even when
// an earlier one failed, so a partially finished run syncs what exists.
// The returned handler is bound to the local results directory.
func (i *Instance) Sync(ctx context.Context) (*SyncReport, *results.Handler) {
	rep := &SyncReport{Instance: i.Name}
	rep.Stages = i.Refresh(ctx, false)

	rep.Groups = append(rep.Groups, i.syncGroup(GroupResults, func() (int, error) {
		dir := i.localPath(constants.ResultsDir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, err
		}
		return i.transport.DownloadSpectra(ctx, i.remotePath(constants.RemoteCNBSEDir), dir)
	}))
	rep.Groups = append(rep.Groups, i.syncGroup(GroupDFT, func() (int, error) {
		return i.fetch(ctx, constants.DFTDir, constants.RemoteDFTDir, constants.DFTFiles...)
	}))
	rep.Groups = append(rep.Groups, i.syncGroup(GroupScreen, func() (int, error) {
		return i.fetch(ctx, constants.LogsDir, constants.RemoteScreenDir, constants.ScreenLogName)
	}))
	rep.Groups = append(rep.Groups, i.syncGroup(GroupCNBSE, func() (int, error) {
		return i.fetch(ctx, constants.LogsDir, constants.RemoteCNBSEDir, constants.CNBSELogName)
	}))

	failed := rep.Failed()
	outcome := ledger.OutcomeOK
	if failed == len(rep.Groups) {
		outcome = ledger.OutcomeFailed
	} else if failed > 0 {
		outcome = ledger.OutcomePartial
	}
	i.opts.Bus.PublishSync(i.Name, len(rep.Groups), failed)
	i.record(ctx, ledger.Entry{Kind: ledger.KindSync, Outcome: outcome, Detail: fmt.Sprintf("%d/%d groups", len(rep.Groups)-failed, len(rep.Groups))})
	if err := i.save(); err != nil {
		i.logger.Warn().Err(err).Msg("failed to save state after sync")
	}
	return rep, i.Results()
}

func (i *Instance) syncGroup(name string, fn func() (int, error)) GroupResult {
	n, err := fn()
	if err != nil {
		i.logger.Warn().Err(err).Str("group", name).Msg("sync group failed")
	} else {
		i.logger.Debug().Str("group", name).Int("files", n).Msg("sync group done")
	}
	return GroupResult{Name: name, Files: n, Err: err}
}

// fetch downloads names from a remote subdirectory into a local one,
// stopping at the first failure.
func (i *Instance) fetch(ctx context.Context, localSub, remoteSub string, names ...string) (int, error) {
	dir := i.localPath(localSub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	src := i.remotePath(remoteSub)
	for n, name := range names {
		if err := i.transport.DownloadFile(ctx, name, dir, src); err != nil {
			return n, fmt.Errorf("%s: %w", name, err)
		}
	}
	return len(names), nil
}

// Results returns a spectra accessor bound to the local results directory.
func (i *Instance) Results() *results.Handler {
	return results.NewHandler(i.localPath(constants.ResultsDir), i.Name, i.Input.Element, i.Input.Edge,
		i.SiteIDs(), i.opts.Graph, i.logger)
}
