package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := `[
		{"JobID":"123.server1","Job_Name":"wing","Job_Path":"/data/users/alice/wing","CPUs":16,"Status":"R","Owner":"alice@login1","Memory":"2097152kb"},
		{"JobID":"124.server1","Job_Name":inf,"CPUs":"N/A","Status":"Q","Owner":"bob","Memory":"1gb"}
	]`

	records, err := Parse([]byte(raw), "cluster-a")
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, "cluster-a", r.Server)
	assert.Equal(t, "123.server1", r.JobID)
	assert.Equal(t, "wing", r.Name.String())
	assert.Equal(t, "16", r.CPUs.String())
	assert.Equal(t, 16, r.CPUCount())
	assert.Equal(t, "alice", r.Owner.String())
	assert.Equal(t, "2.0Gb", r.Memory.String())

	r = records[1]
	assert.Equal(t, "Unknown", r.Name.String())
	assert.False(t, r.Path.IsPresent())
	assert.Equal(t, "N/A", r.Path.String())
	assert.Equal(t, 0, r.CPUCount())
	assert.Equal(t, "1gb", r.Memory.String())
}

func TestParseEmptyList(t *testing.T) {
	records, err := Parse([]byte(`[]`), "cluster-a")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseError(t *testing.T) {
	for _, raw := range []string{`not json`, `{"Jobs":{}}`, `[{"Job_Name":"x"}]`, `[{"JobID":"1","CPUs":[1]}]`} {
		_, err := Parse([]byte(raw), "cluster-b")
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrFeedParse), raw)

		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "cluster-b", perr.Server)
		assert.NotEmpty(t, perr.Raw)
	}
}

func TestNormalizeMemory(t *testing.T) {
	tests := map[string]string{
		"2097152kb": "2.0Gb",
		"512000kb":  "500.0Mb",
		"1048576kb": "1024.0Mb",
		"0kb":       "0.0Mb",
		"4gb":       "4gb",
		"":          "",
		"abckb":     "abckb",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeMemory(in), in)
	}
}

func TestStripDomain(t *testing.T) {
	assert.Equal(t, "alice", StripDomain("alice@login1.cluster"))
	assert.Equal(t, "bob", StripDomain("bob"))
}
