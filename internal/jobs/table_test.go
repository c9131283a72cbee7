package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(server, id, cpus string) Record {
	r := Record{Server: server, JobID: id, Status: Present("R"), Owner: Present("alice")}
	if cpus != "" {
		r.CPUs = Present(cpus)
	}
	return r
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.JobID
	}
	return out
}

func TestFieldString(t *testing.T) {
	assert.Equal(t, "N/A", Absent().String())
	assert.Equal(t, "", Present("").String())
	assert.Equal(t, "x", Present("x").String())
}

func TestCPUCount(t *testing.T) {
	assert.Equal(t, 16, rec("a", "1", "16").CPUCount())
	assert.Equal(t, 0, rec("a", "1", "").CPUCount())
	assert.Equal(t, 0, rec("a", "1", "N/A").CPUCount())
	assert.Equal(t, 0, rec("a", "1", "-4").CPUCount())
}

func TestSortByCPUsNumeric(t *testing.T) {
	table := NewTable([]Record{rec("a", "16", "16"), rec("a", "na", ""), rec("a", "4", "4")})

	sorted, err := table.SortBy(FieldCPUs)
	require.NoError(t, err)
	assert.Equal(t, []string{"na", "4", "16"}, ids(sorted))

	// the table itself is unchanged
	assert.Equal(t, []string{"16", "na", "4"}, ids(table.Records()))
}

func TestSortByIsStable(t *testing.T) {
	table := NewTable([]Record{rec("b", "1", ""), rec("a", "2", ""), rec("b", "3", ""), rec("a", "4", "")})

	sorted, err := table.SortBy(FieldServer)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4", "1", "3"}, ids(sorted))
}

func TestSortByUnknownField(t *testing.T) {
	_, err := NewTable(nil).SortBy("Priority")
	assert.Error(t, err)
}

func TestParseSortField(t *testing.T) {
	f, err := ParseSortField("job_name")
	require.NoError(t, err)
	assert.Equal(t, FieldName, f)
}

func TestFindByPartialID(t *testing.T) {
	table := NewTable([]Record{rec("s1", "98123.server2", ""), rec("s1", "123.server1", "")})

	r, err := table.FindByPartialID("123")
	require.NoError(t, err)
	assert.Equal(t, "98123.server2", r.JobID, "first match in table order wins")

	r, err = table.FindByPartialID("123.server1")
	require.NoError(t, err)
	assert.Equal(t, "123.server1", r.JobID)

	_, err = table.FindByPartialID("777")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = table.FindByPartialID("")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMatchesID(t *testing.T) {
	assert.True(t, MatchesID("123.server1", "123"))
	assert.True(t, MatchesID("98123.server2", "123"))
	assert.False(t, MatchesID("124.server1", "123"))
}

func TestFilter(t *testing.T) {
	q := rec("s2", "3", "")
	q.Status = Present("Q")
	q.Owner = Present("bob")
	table := NewTable([]Record{rec("s1", "1", ""), rec("s2", "2", ""), q})

	assert.Equal(t, []string{"1", "2"}, ids(table.Filter(ByStatus("r"))))
	assert.Equal(t, []string{"3"}, ids(table.Filter(ByOwner("bob"))))
	assert.Equal(t, []string{"2"}, ids(table.Filter(All(ByServer("s2"), ByStatus("R"), nil))))
	assert.Empty(t, table.Filter(ByServer("s9")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "123456789", Truncate("123456789", 10))
	assert.Equal(t, "123456...", Truncate("1234567890", 10))
	assert.Len(t, Truncate("/data/users/alice/a/rather/long/path/to/the/job/directory", 50), 49)
}
