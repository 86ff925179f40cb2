package dataset_test

import (
	"strings"
	"testing"

	"github.com/contenox/analyst/dataset"
	"github.com/stretchr/testify/require"
)

func sales() *dataset.Dataset {
	return dataset.New("sales", []string{"month", "revenue"}, []dataset.Row{
		{"month": "jan", "revenue": 100.0},
		{"month": "feb", "revenue": 80.0},
		{"month": "mar", "revenue": 120.0},
	})
}

func TestUnit_Stage_DiscardLeavesTableIdentical(t *testing.T) {
	d := sales()
	before := d.Fingerprint()

	change, err := d.Stage("act-1", "drop february", nil, []dataset.Row{
		{"month": "jan", "revenue": 100.0},
		{"month": "mar", "revenue": 120.0},
	})
	require.NoError(t, err)
	require.Equal(t, 1, change.Delta.RowsRemoved)
	require.Equal(t, 3, d.Len(), "staging must not touch the working table")
	require.Equal(t, before, d.Fingerprint())

	require.NoError(t, d.Discard(change.ID))
	require.Equal(t, before, d.Fingerprint())
	require.ErrorIs(t, d.Discard(change.ID), dataset.ErrNoPendingChange)
}

func TestUnit_Stage_Approve(t *testing.T) {
	d := sales()
	change, err := d.Stage("act-1", "", []string{"month", "revenue", "double"}, []dataset.Row{
		{"month": "jan", "revenue": 100.0, "double": 200.0},
		{"month": "feb", "revenue": 80.0, "double": 160.0},
		{"month": "mar", "revenue": 120.0, "double": 240.0},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"double"}, change.Delta.ColumnsAdded)
	require.Equal(t, 3, change.Delta.RowsChanged)

	_, err = d.Stage("act-2", "", nil, nil)
	require.ErrorIs(t, err, dataset.ErrPendingChangeExists)

	_, err = d.Approve("change-other")
	require.ErrorIs(t, err, dataset.ErrStaleChange)

	delta, err := d.Approve(change.ID)
	require.NoError(t, err)
	require.Equal(t, 3, delta.RowsAfter)
	require.Equal(t, []string{"month", "revenue", "double"}, d.Columns())
	_, pending := d.Pending()
	require.False(t, pending)
}

func TestUnit_Stage_NoObservableChange(t *testing.T) {
	d := sales()
	_, err := d.Stage("act-1", "", nil, d.Rows())
	require.ErrorIs(t, err, dataset.ErrNoObservableChange)
	_, pending := d.Pending()
	require.False(t, pending)
}

func TestUnit_RowsAreCopies(t *testing.T) {
	d := sales()
	rows := d.Rows()
	rows[0]["revenue"] = 1.0
	require.Equal(t, 100.0, d.Rows()[0]["revenue"])
}

func TestUnit_ExportLoadRoundTrip(t *testing.T) {
	d := sales()
	_, err := d.Stage("act-1", "", nil, d.Sample(1))
	require.NoError(t, err)
	st := d.Export()

	other := dataset.New("", nil, nil)
	other.Load(st)
	require.Equal(t, d.Fingerprint(), other.Fingerprint())
	p, ok := other.Pending()
	require.True(t, ok)
	require.Len(t, p.Rows, 1)
}

func TestUnit_FromCSVAndProfiles(t *testing.T) {
	d, err := dataset.FromCSV("sales", strings.NewReader("month,revenue,active\njan,100,true\nfeb,,false\n"))
	require.NoError(t, err)
	require.Equal(t, 2, d.Len())

	profiles := d.Profiles()
	require.Len(t, profiles, 3)
	require.Equal(t, "string", profiles[0].Type)
	require.Equal(t, "number", profiles[1].Type)
	require.Equal(t, 1, profiles[1].Nulls)
	require.Equal(t, "boolean", profiles[2].Type)
}
