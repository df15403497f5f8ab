package authz

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDN(t *testing.T) {
	subject := pkix.Name{
		Names: []pkix.AttributeTypeAndValue{
			{Type: asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}, Value: "org"},
			{Type: asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}, Value: "example"},
			{Type: asn1.ObjectIdentifier{2, 5, 4, 11}, Value: "People"},
			{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "Grace Hopper"},
		},
	}
	assert.Equal(t, "/DC=org/DC=example/OU=People/CN=Grace Hopper", NormalizeDN(subject))
}

func TestNormalizeDNEscapesCommas(t *testing.T) {
	subject := pkix.Name{
		Names: []pkix.AttributeTypeAndValue{
			{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "Doe, Jane"},
		},
	}
	assert.Equal(t, `/CN=Doe\, Jane`, NormalizeDN(subject))
}

func TestMatchesDN(t *testing.T) {
	registered := "/DC=org/DC=example/OU=People/CN=Grace Hopper"

	assert.True(t, matchesDN(registered, registered, false))
	assert.False(t, matchesDN(registered, "/DC=org/DC=example", false))
	assert.True(t, matchesDN(registered, "/DC=org/DC=example", true))
	assert.False(t, matchesDN(registered, "/DC=org/DC=example/OU=Finance", true))
}
