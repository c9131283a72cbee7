package feed

import (
	"bytes"
	"regexp"
)

// Rule is one textual fix applied to scheduler output before JSON decoding.
// qstat's JSON output is not always valid JSON; each rule removes one known
// defect.
type Rule struct {
	Name  string
	Apply func([]byte) []byte
}

var (
	jobNameInf     = []byte(`"Job_Name":inf,`)
	jobNameUnknown = []byte(`"Job_Name":"Unknown",`)
	jobNameDigits  = regexp.MustCompile(`"Job_Name":\d+,`)
	pbsOPath       = regexp.MustCompile(`"PBS_O_PATH":\S+,`)
	controlSeq     = []byte(`^"^^`)
)

// scientificFor matches an unquoted scientific-notation value of key
func scientificFor(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + key + `":[+\-]?(?:0|[1-9]\d*)(?:\.\d*)?(?:[eE][+\-]?\d+)`)
}

func replaceFloat(key string) Rule {
	re := scientificFor(key)
	repl := []byte(`"` + key + `":"float"`)
	return Rule{
		Name: "float-" + key,
		Apply: func(b []byte) []byte {
			return re.ReplaceAllLiteral(b, repl)
		},
	}
}

// Rules is the repair pipeline, applied in order
var Rules = []Rule{
	{
		Name: "job-name-inf",
		Apply: func(b []byte) []byte {
			return bytes.ReplaceAll(b, jobNameInf, jobNameUnknown)
		},
	},
	{
		Name: "job-name-digits",
		Apply: func(b []byte) []byte {
			return jobNameDigits.ReplaceAllLiteral(b, jobNameUnknown)
		},
	},
	{
		Name: "drop-pbs-o-path",
		Apply: func(b []byte) []byte {
			return pbsOPath.ReplaceAllLiteral(b, nil)
		},
	},
	replaceFloat("expl"),
	replaceFloat("rho_low"),
	replaceFloat("rho_high"),
	{
		Name: "strip-control-sequence",
		Apply: func(b []byte) []byte {
			return bytes.ReplaceAll(b, controlSeq, nil)
		},
	},
}

// Repair applies every rule in Rules to raw and returns the result.
// raw is not modified.
func Repair(raw []byte) []byte {
	out := raw
	for _, r := range Rules {
		out = r.Apply(out)
	}
	return out
}
