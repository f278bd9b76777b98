package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePartialDate(t *testing.T) {
	tests := []struct {
		in        string
		want      *PartialDate
		precision DatePrecision
		wantErr   bool
	}{
		{in: "1994", want: &PartialDate{Year: 1994}, precision: PrecisionYear},
		{in: "1994-04", want: &PartialDate{Year: 1994, Month: 4}, precision: PrecisionMonth},
		{in: "1994-04-05", want: &PartialDate{Year: 1994, Month: 4, Day: 5}, precision: PrecisionDay},
		{in: "", want: nil, precision: PrecisionNone},
		{in: `\N`, want: nil, precision: PrecisionNone},
		{in: "1994-13", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1994-01-02-03", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePartialDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.precision, got.Precision())
		})
	}
}

func TestPartialDateString(t *testing.T) {
	assert.Equal(t, "1994", (&PartialDate{Year: 1994}).String())
	assert.Equal(t, "1994-04", (&PartialDate{Year: 1994, Month: 4}).String())
	assert.Equal(t, "1994-04-05", (&PartialDate{Year: 1994, Month: 4, Day: 5}).String())
	var nilDate *PartialDate
	assert.Equal(t, "", nilDate.String())
}

func TestSubjectValidate(t *testing.T) {
	ok := Subject{ID: "nm0000001", Name: "Fred Astaire", Death: &PartialDate{Year: 1987}}
	assert.NoError(t, ok.Validate())

	noDeath := Subject{ID: "nm0000002", Name: "Still Alive"}
	err := noDeath.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotCandidate))

	noName := Subject{ID: "nm0000003", Death: &PartialDate{Year: 2001}}
	assert.True(t, errors.Is(noName.Validate(), ErrNotCandidate))
}

func TestAgeAtDeath(t *testing.T) {
	s := Subject{
		Birth: &PartialDate{Year: 1899, Month: 5, Day: 10},
		Death: &PartialDate{Year: 1987, Month: 6, Day: 22},
	}
	assert.Equal(t, 88, s.AgeAtDeath())

	s.Death = &PartialDate{Year: 1987, Month: 5, Day: 9}
	assert.Equal(t, 87, s.AgeAtDeath())

	s.Birth = nil
	assert.Equal(t, -1, s.AgeAtDeath())
}

func TestMergedRecordMinConfidence(t *testing.T) {
	r := NewMergedRecord("s1")
	r.Fields[FieldCause] = FieldValue{Value: "cancer", Confidence: 0.9}
	assert.InDelta(t, 0.9, r.MinConfidence([]Field{FieldCause}), 0.0001)
	assert.InDelta(t, 0.0, r.MinConfidence([]Field{FieldCause, FieldLocation}), 0.0001)
	assert.InDelta(t, 0.0, r.MinConfidence(nil), 0.0001)
}

func TestTierOrder(t *testing.T) {
	for i := 1; i < len(Tiers); i++ {
		assert.Less(t, int(Tiers[i-1]), int(Tiers[i]))
	}
	tier, ok := ParseTier("FREE_NEWS")
	assert.True(t, ok)
	assert.Equal(t, TierFreeNews, tier)
	assert.True(t, TierFreeNews.IsFree())
	assert.False(t, TierPaid.IsFree())
	assert.True(t, ReliabilityArchival.Outranks(ReliabilityTier1News))
	assert.False(t, ReliabilityTier1News.Outranks(ReliabilityTier1News))
}
