package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/store"
)

// Violation workflow actions exposed by the CLI and the HTTP API.
const (
	actionAssign  = "assign"
	actionResolve = "resolve"
	actionDismiss = "dismiss"
)

var errAssigneeRequired = eris.New("assignee is required")

// statusUpdateFor maps a workflow action onto a store update.
func statusUpdateFor(action, assignee, notes string) (store.StatusUpdate, error) {
	switch action {
	case actionAssign:
		if assignee == "" {
			return store.StatusUpdate{}, errAssigneeRequired
		}
		return store.StatusUpdate{Status: model.ViolationInProgress, Assignee: assignee, Notes: notes}, nil
	case actionResolve:
		return store.StatusUpdate{Status: model.ViolationResolved, Assignee: assignee, Notes: notes}, nil
	case actionDismiss:
		return store.StatusUpdate{Status: model.ViolationDismissed, Assignee: assignee, Notes: notes}, nil
	default:
		return store.StatusUpdate{}, eris.Errorf("unknown action %q", action)
	}
}

// openStore opens and migrates the configured store for commands that do
// not fetch pages.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("scan"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// productDetail is a product with its open violation set and recent scans.
type productDetail struct {
	Product    *model.ScannedProduct `json:"product"`
	Violations []model.Violation     `json:"violations"`
	History    []model.ScanRecord    `json:"history"`
}

const detailHistoryLimit = 20

func loadProductDetail(ctx context.Context, st store.Store, id string) (*productDetail, error) {
	p, err := st.FindByIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, eris.Wrapf(store.ErrNotFound, "product %s", id)
	}
	vs, err := st.ListViolations(ctx, store.ViolationFilter{ProductID: id})
	if err != nil {
		return nil, err
	}
	hist, err := st.ListScanHistory(ctx, id, detailHistoryLimit)
	if err != nil {
		return nil, err
	}
	if vs == nil {
		vs = []model.Violation{}
	}
	if hist == nil {
		hist = []model.ScanRecord{}
	}
	return &productDetail{Product: p, Violations: vs, History: hist}, nil
}
