package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/store"
)

func TestStatusUpdateFor(t *testing.T) {
	tests := []struct {
		action   string
		assignee string
		want     model.ViolationStatus
		wantErr  bool
	}{
		{actionAssign, "officer-7", model.ViolationInProgress, false},
		{actionAssign, "", "", true},
		{actionResolve, "", model.ViolationResolved, false},
		{actionDismiss, "", model.ViolationDismissed, false},
		{"escalate", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.action+"/"+tt.assignee, func(t *testing.T) {
			got, err := statusUpdateFor(tt.action, tt.assignee, "notes")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.assignee, got.Assignee)
			assert.Equal(t, "notes", got.Notes)
		})
	}
}

func TestLoadProductDetail(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "detail.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	defer st.Close() //nolint:errcheck

	_, err = loadProductDetail(ctx, st, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &model.ScannedProduct{
		ID:               "prod-1",
		URL:              "https://shop.example/p/1",
		Name:             "Masala Chai",
		ComplianceStatus: model.StatusCompliant,
		Score:            100,
		LastScannedAt:    &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err = st.Upsert(ctx, p, nil)
	require.NoError(t, err)

	detail, err := loadProductDetail(ctx, st, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "Masala Chai", detail.Product.Name)
	assert.NotNil(t, detail.Violations)
	assert.Empty(t, detail.Violations)
	assert.Len(t, detail.History, 1)
}
