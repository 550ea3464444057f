package postgres

import (
	"context"
	"errors"
	"testing"

	"bloodlink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEachDonor(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM donors ORDER BY id`).
		WillReturnRows(donorRows().
			AddRow("d-1", "u-1", "O-", 52.5, 13.4, true, nil, ts).
			AddRow("d-2", "u-2", "B+", nil, nil, true, nil, ts))

	var got []string
	err := s.EachDonor(context.Background(), func(d models.Donor) error {
		got = append(got, d.ID+"/"+d.BloodType.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d-1/O-", "d-2/B+"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEachOpenRequest_StopsOnCallbackError(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM blood_requests WHERE NOT fulfilled ORDER BY id`).
		WillReturnRows(requestRows().
			AddRow("r-1", "u-1", "A+", 4, 1.0, 2.0, 1, false, nil, 1, ts, ts).
			AddRow("r-2", "u-2", "A-", 2, 1.0, 2.0, 1, false, nil, 1, ts, ts))

	boom := errors.New("index unavailable")
	calls := 0
	err := s.EachOpenRequest(context.Background(), func(r models.BloodRequest) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestEachFulfilledRequest(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM blood_requests WHERE fulfilled ORDER BY id`).
		WillReturnRows(requestRows().
			AddRow("r-3", "u-3", "O+", 3, 1.0, 2.0, 1, true, "o-3", 2, ts, ts))

	var got []models.BloodRequest
	err := s.EachFulfilledRequest(context.Background(), func(r models.BloodRequest) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r-3", got[0].ID)
	assert.True(t, got[0].Fulfilled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
