package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openafc/afc-telemetry-core/internal/certresolver"
)

func TestEncodeCertKey_RoundTrip(t *testing.T) {
	cases := []certresolver.Query{
		{Serial: "AP-1"},
		{Serial: "AP-1", Certs: []certresolver.CertPair{{Ruleset: "US", CertID: "abc"}}},
		{Serial: "AP-2", Certs: []certresolver.CertPair{
			{Ruleset: "US", CertID: "abc"},
			{Ruleset: "CA", CertID: "xyz"},
		}},
	}

	for _, q := range cases {
		key := EncodeCertKey(q)
		got := decodeCertKey(key)
		assert.Equal(t, q.Serial, got.Serial)
		assert.Equal(t, q.Certs, got.Certs)
	}
}

func TestEncodeCertKey_DistinctCertListsProduceDistinctKeys(t *testing.T) {
	a := EncodeCertKey(certresolver.Query{Serial: "AP-1", Certs: []certresolver.CertPair{{Ruleset: "US", CertID: "abc"}}})
	b := EncodeCertKey(certresolver.Query{Serial: "AP-1", Certs: []certresolver.CertPair{{Ruleset: "US", CertID: "def"}}})
	assert.NotEqual(t, a, b)
}
