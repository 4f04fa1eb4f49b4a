package history

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	l, err := NewLedger(db)
	require.NoError(t, err)
	return l
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestRecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &TrainingRun{UserID: 1, Status: StatusSkipped, Samples: 5, StartedAt: start}
	require.NoError(t, l.RecordRun(ctx, first))
	assert.Len(t, first.ID, 36, "uuid assigned")

	second := &TrainingRun{
		UserID:    1,
		Status:    StatusSuccess,
		Samples:   40,
		Accuracy:  0.9,
		Metrics:   JSONB{"status": "success"},
		StartedAt: start.Add(time.Hour),
	}
	require.NoError(t, l.RecordRun(ctx, second))
	require.NoError(t, l.RecordRun(ctx, &TrainingRun{UserID: 2, Status: StatusFailed, StartedAt: start}))

	runs, err := l.Runs(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, "success", runs[0].Metrics["status"])

	latest, err := l.LatestRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, latest.Status)

	limited, err := l.Runs(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = l.LatestRun(ctx, 99)
	assert.True(t, errors.IsNotFound(err))
}

func TestDatasets(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	rows := RowList{
		{Name: "P-1", Type: "Pump", Flowrate: 120, Pressure: 5.5, Temperature: 110},
		{Name: "V-1", Type: "Valve", Flowrate: 60, Pressure: 4.2, Temperature: 95},
	}
	require.NoError(t, l.AddDataset(ctx, &Dataset{UserID: 3, Name: "a.csv", Count: 2, Rows: rows}))
	require.NoError(t, l.AddDataset(ctx, &Dataset{UserID: 3, Name: "b.csv", Count: 1, Rows: rows[:1]}))
	require.NoError(t, l.AddDataset(ctx, &Dataset{UserID: 1, Name: "c.csv", Count: 1, Rows: rows[1:]}))

	users, err := l.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, users)

	records, err := l.Records(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Pump", records[0].Type)
	assert.Equal(t, 5.5, *records[0].Pressure)

	require.NoError(t, l.UpdateMetrics(ctx, 3, map[string]any{"total_samples": 3}))
	datasets, err := l.Datasets(ctx, 3)
	require.NoError(t, err)
	for _, d := range datasets {
		assert.EqualValues(t, 3, d.MLMetrics["total_samples"])
	}
	other, err := l.Datasets(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, other[0].MLMetrics)
}

func TestToJSONB(t *testing.T) {
	m, err := ToJSONB(equipment.TargetMetrics{R2: 0.5, Model: "LinearRegression"})
	require.NoError(t, err)
	assert.Equal(t, 0.5, m["r2_score"])
	assert.Equal(t, "LinearRegression", m["model"])
}

func TestDatasetHistory(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := RowList{{Name: "P-1", Type: "Pump", Flowrate: 120, Pressure: 5.5, Temperature: 110}}
	var ids []string
	for i := 0; i < 7; i++ {
		ds := &Dataset{UserID: 4, Name: fmt.Sprintf("upload-%d.csv", i), Count: 1, Rows: rows, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, l.AddDataset(ctx, ds))
		ids = append(ids, ds.ID)
	}
	require.NoError(t, l.AddDataset(ctx, &Dataset{UserID: 5, Name: "other.csv", Count: 1, Rows: rows, CreatedAt: base}))

	recent, err := l.RecentDatasets(ctx, 4, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "upload-6.csv", recent[0].Name)
	assert.Equal(t, "upload-4.csv", recent[2].Name)

	pruned, err := l.PruneDatasets(ctx, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	remaining, err := l.Datasets(ctx, 4)
	require.NoError(t, err)
	require.Len(t, remaining, 5)
	assert.Equal(t, "upload-2.csv", remaining[0].Name, "oldest two removed")

	_, err = l.Dataset(ctx, 4, ids[0])
	assert.True(t, errors.IsNotFound(err))

	pruned, err = l.PruneDatasets(ctx, 4, 5)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	other, err := l.Datasets(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, other, 1, "other users are untouched")

	_, err = l.PruneDatasets(ctx, 4, 0)
	assert.Error(t, err)
}

func TestDatasetGetAndDelete(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	ds := &Dataset{UserID: 6, Name: "plant.csv", Count: 1, Rows: RowList{{Name: "V-1", Type: "Valve", Flowrate: 60, Pressure: 4.2, Temperature: 95}}}
	require.NoError(t, l.AddDataset(ctx, ds))

	got, err := l.Dataset(ctx, 6, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, "plant.csv", got.Name)
	require.Len(t, got.Rows, 1)

	_, err = l.Dataset(ctx, 7, ds.ID)
	assert.True(t, errors.IsNotFound(err), "another user's dataset is not visible")
	assert.True(t, errors.IsNotFound(l.DeleteDataset(ctx, 7, ds.ID)))

	require.NoError(t, l.DeleteDataset(ctx, 6, ds.ID))
	_, err = l.Dataset(ctx, 6, ds.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(l.DeleteDataset(ctx, 6, ds.ID)))
}
