package certresolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCertResult_DeniedCriteria(t *testing.T) {
	outdoor := outdoorFlag
	indoorOnly := 0

	cases := []struct {
		name   string
		result CertResult
		denied bool
	}{
		{"undefined", CertResult{CertUndefined: true}, true},
		{"denied outright", CertResult{LocationFlags: &outdoor, CertDenied: true}, true},
		{"serial denied", CertResult{LocationFlags: &outdoor, SerialDenied: true}, true},
		{"indoor only fails outdoor check", CertResult{LocationFlags: &indoorOnly}, true},
		{"allowed", CertResult{LocationFlags: &outdoor}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.denied, c.result.Denied())
		})
	}
}

func TestResult_Allowed_FiltersDenied(t *testing.T) {
	outdoor := outdoorFlag
	r := Result{
		Serial: "AP-1",
		Certs: []CertResult{
			{Ruleset: "US", CertID: "good", LocationFlags: &outdoor},
			{Ruleset: "US", CertID: "bad", CertUndefined: true},
		},
	}
	allowed := r.Allowed()
	assert.Len(t, allowed, 1)
	assert.Equal(t, "good", allowed[0].CertID)
}

func TestSpecialCertifications_Lookup(t *testing.T) {
	special := SpecialCertifications{
		"cert-x": {
			"AP-specific": {LocationFlags: 3},
			"":            {LocationFlags: 1},
		},
	}

	p, ok := special.Lookup("cert-x", "AP-specific")
	assert.True(t, ok)
	assert.Equal(t, 3, p.LocationFlags)

	p, ok = special.Lookup("cert-x", "AP-other")
	assert.True(t, ok)
	assert.Equal(t, 1, p.LocationFlags)

	_, ok = special.Lookup("cert-unknown", "AP-1")
	assert.False(t, ok)
}
