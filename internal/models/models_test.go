package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	statuses := []TransactionStatus{StatusPending, StatusProcessing, StatusComplete, StatusFailed}

	allowed := map[TransactionStatus]map[TransactionStatus]bool{
		StatusPending:    {StatusProcessing: true, StatusFailed: true},
		StatusProcessing: {StatusComplete: true, StatusFailed: true},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			require.Equal(t, allowed[from][to], CanTransition(from, to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	require.Empty(t, StatusTransitions[StatusComplete])
	require.Empty(t, StatusTransitions[StatusFailed])
}

func TestMetadataMerge(t *testing.T) {
	existing := Metadata{"a": 1}

	merged := existing.Merge(Metadata{"b": 2})
	require.Equal(t, Metadata{"a": 1, "b": 2}, merged)

	// The receiver must not be mutated
	require.Equal(t, Metadata{"a": 1}, existing)

	overwritten := existing.Merge(Metadata{"a": 3})
	require.Equal(t, Metadata{"a": 3}, overwritten)
}

func TestMetadataScanNil(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan(nil))
	require.NotNil(t, m)
	require.Empty(t, m)
}

func TestMetadataScanBytes(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan([]byte(`{"order":"ord_42"}`)))
	require.Equal(t, "ord_42", m["order"])
}
