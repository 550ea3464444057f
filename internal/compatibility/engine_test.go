package compatibility

import (
	"testing"

	"bloodlink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) models.BloodType {
	t.Helper()
	bt, err := models.ParseBloodType(s)
	require.NoError(t, err)
	return bt
}

func TestValidateTable(t *testing.T) {
	require.NoError(t, ValidateTable())
}

func TestCanDonate_ThirtyTwoPairs(t *testing.T) {
	count := 0
	for _, d := range models.AllBloodTypes() {
		for _, r := range models.AllBloodTypes() {
			if CanDonate(d, r) {
				count++
			}
		}
	}
	assert.Equal(t, 32, count)
}

func TestCanDonate_UniversalDonorAndAcceptor(t *testing.T) {
	oNeg := mustParse(t, "O-")
	abPos := mustParse(t, "AB+")
	for _, bt := range models.AllBloodTypes() {
		assert.True(t, CanDonate(oNeg, bt), "O- should give to %s", bt)
		assert.True(t, CanDonate(bt, abPos), "%s should give to AB+", bt)
	}
}

func TestCanDonate_CanonicalPairs(t *testing.T) {
	tests := []struct {
		donor     string
		recipient string
		want      bool
	}{
		{"A-", "A+", true},
		{"A+", "A-", false},
		{"B-", "AB-", true},
		{"AB-", "A-", false},
		{"O+", "O-", false},
		{"O+", "B+", true},
		{"AB+", "AB-", false},
		{"A+", "B+", false},
	}

	for _, tt := range tests {
		t.Run(tt.donor+"->"+tt.recipient, func(t *testing.T) {
			assert.Equal(t, tt.want, CanDonate(mustParse(t, tt.donor), mustParse(t, tt.recipient)))
		})
	}
}

func TestCompatibleDonors(t *testing.T) {
	got := CompatibleDonors(mustParse(t, "AB-"))
	assert.ElementsMatch(t, []models.BloodType{models.ANegative, models.BNegative, models.ABNegative, models.ONegative}, got)

	assert.Len(t, CompatibleDonors(models.ABPositive), 8)
	assert.Equal(t, []models.BloodType{models.ONegative}, CompatibleDonors(models.ONegative))
}

func TestCompatibleDonorsIsInverseOfRecipients(t *testing.T) {
	for _, d := range models.AllBloodTypes() {
		for _, r := range CompatibleRecipients(d) {
			assert.Contains(t, CompatibleDonors(r), d)
		}
	}
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100.0, Score(models.ABNegative, models.ABNegative))
	assert.Equal(t, 85.0, Score(models.ANegative, models.APositive))
	assert.Equal(t, 75.0, Score(models.ONegative, models.ABNegative))
	assert.Equal(t, 60.0, Score(models.ONegative, models.APositive))
	assert.Equal(t, 0.0, Score(models.APositive, models.ONegative))
}

func TestCanDonate_PanicsOnInvalidType(t *testing.T) {
	assert.Panics(t, func() { CanDonate(models.BloodType(42), models.APositive) })
}
