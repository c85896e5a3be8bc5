package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trytofly94/squash-booker/internal/scoring"
)

func defaultWeights() scoring.Weights {
	return scoring.Weights{Availability: 0.4, Historical: 0.3, Preference: 0.2, Position: 0.1}
}

type fakePatterns struct {
	rate     float64
	attempts int
}

func (f fakePatterns) SuccessRate(courtID, timeSlot string, dayOfWeek int) (float64, int) {
	return f.rate, f.attempts
}

func TestWeights_ValidateRejectsNonUnitSum(t *testing.T) {
	w := scoring.Weights{Availability: 0.5, Historical: 0.5, Preference: 0.5, Position: 0.5}
	assert.Error(t, w.Validate())
}

func TestScorer_RejectsInvalidWeights(t *testing.T) {
	_, err := scoring.New(scoring.Weights{Availability: 2}, nil, 5)
	assert.Error(t, err)
}

func TestScorer_PreferredAndFreeCourtWins(t *testing.T) {
	s, err := scoring.New(defaultWeights(), nil, 5)
	require.NoError(t, err)

	courts := []scoring.CourtInput{
		{CourtID: "1", CurrentlyFree: true},
		{CourtID: "3", CurrentlyFree: true},
		{CourtID: "7", CurrentlyFree: false, NearbyFreeFraction: 0.2},
	}
	scores := s.Score(courts, []string{"1", "3"}, "14:00", 2)

	require.Len(t, scores, 3)
	assert.Equal(t, "1", scores[0].CourtID)
	assert.Equal(t, "7", scores[len(scores)-1].CourtID)
}

func TestScorer_TiesBreakByLowerCourtID(t *testing.T) {
	s, err := scoring.New(defaultWeights(), nil, 5)
	require.NoError(t, err)

	courts := []scoring.CourtInput{
		{CourtID: "9", CurrentlyFree: true},
		{CourtID: "2", CurrentlyFree: true},
	}
	scores := s.Score(courts, nil, "14:00", 2)
	// Both free, no preference, identical availability/historical components;
	// position differs by ordinal so scores needn't tie here, but if they do
	// the lower id must sort first. Assert sort order directly.
	for i := 1; i < len(scores); i++ {
		if scores[i-1].Score == scores[i].Score {
			assert.Less(t, scores[i-1].CourtID, scores[i].CourtID)
		}
	}
}

func TestScorer_PositionOrdersCourtsNumerically(t *testing.T) {
	s, err := scoring.New(scoring.Weights{Position: 1}, nil, 5)
	require.NoError(t, err)

	courts := []scoring.CourtInput{
		{CourtID: "10", CurrentlyFree: true},
		{CourtID: "2", CurrentlyFree: true},
		{CourtID: "1", CurrentlyFree: true},
	}
	scores := s.Score(courts, nil, "14:00", 2)

	require.Len(t, scores, 3)
	assert.Equal(t, "1", scores[0].CourtID)
	assert.Equal(t, "2", scores[1].CourtID)
	assert.Equal(t, "10", scores[2].CourtID)
	assert.Equal(t, 1.0, scores[0].Components.Position)
	assert.Equal(t, 0.0, scores[2].Components.Position)
}

func TestScorer_HistoricalFallsBackBelowMinAttempts(t *testing.T) {
	s, err := scoring.New(defaultWeights(), fakePatterns{rate: 0.9, attempts: 1}, 5)
	require.NoError(t, err)

	scores := s.Score([]scoring.CourtInput{{CourtID: "1", CurrentlyFree: true}}, nil, "14:00", 2)
	require.Len(t, scores, 1)
	assert.Equal(t, 0.5, scores[0].Components.Historical)
}

func TestScorer_HistoricalUsedAboveMinAttempts(t *testing.T) {
	s, err := scoring.New(defaultWeights(), fakePatterns{rate: 0.9, attempts: 10}, 5)
	require.NoError(t, err)

	scores := s.Score([]scoring.CourtInput{{CourtID: "1", CurrentlyFree: true}}, nil, "14:00", 2)
	require.Len(t, scores, 1)
	assert.Equal(t, 0.9, scores[0].Components.Historical)
}
