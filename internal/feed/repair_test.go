package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func applyRule(t *testing.T, name, in string) string {
	t.Helper()
	for _, r := range Rules {
		if r.Name == name {
			return string(r.Apply([]byte(in)))
		}
	}
	t.Fatalf("no rule %q", name)
	return ""
}

func TestRules(t *testing.T) {
	tests := []struct {
		rule string
		in   string
		want string
	}{
		{"job-name-inf", `{"Job_Name":inf,"x":1}`, `{"Job_Name":"Unknown","x":1}`},
		{"job-name-digits", `{"Job_Name":12345,"x":1}`, `{"Job_Name":"Unknown","x":1}`},
		{"job-name-digits", `{"Job_Name":"123","x":1}`, `{"Job_Name":"123","x":1}`},
		{"drop-pbs-o-path", `{"PBS_O_PATH":/usr/bin:/bin,"PBS_O_WORKDIR":"/d"}`, `{"PBS_O_WORKDIR":"/d"}`},
		{"float-expl", `{"expl":1.5e-3,"y":2}`, `{"expl":"float","y":2}`},
		{"float-rho_low", `{"rho_low":-2E+10}`, `{"rho_low":"float"}`},
		{"float-rho_high", `{"rho_high":0.e5}`, `{"rho_high":"float"}`},
		{"float-expl", `{"expl":1.5}`, `{"expl":1.5}`},
		{"strip-control-sequence", `{"a":"b^"^^c"}`, `{"a":"bc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			assert.Equal(t, tt.want, applyRule(t, tt.rule, tt.in))
		})
	}
}

func TestRepairOrder(t *testing.T) {
	names := make([]string, len(Rules))
	for i, r := range Rules {
		names[i] = r.Name
	}
	assert.Equal(t, []string{
		"job-name-inf", "job-name-digits", "drop-pbs-o-path",
		"float-expl", "float-rho_low", "float-rho_high",
		"strip-control-sequence",
	}, names)
}

func TestRepairLeavesValidInputAlone(t *testing.T) {
	in := []byte(`[{"JobID":"1.s","Job_Name":"run","Memory":"2.0Gb"}]`)
	assert.Equal(t, string(in), string(Repair(in)))
}
