package authz

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"strings"
)

// well-known short names for the RDN attribute OIDs this system expects to
// see in a client certificate's subject, in the order pkix.Name.Names lists
// them (the order the certificate itself encodes).
var oidShortNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.11":                   "OU",
	"2.5.4.10":                   "O",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"0.9.2342.19200300.100.1.25": "DC",
	"1.2.840.113549.1.9.1":       "emailAddress",
}

func shortName(oid asn1.ObjectIdentifier) (string, bool) {
	name, ok := oidShortNames[oid.String()]
	return name, ok
}

// escapeDNValue backslash-escapes commas, the only character the wire form
// requires escaping (RDN values are otherwise rendered verbatim).
func escapeDNValue(v string) string {
	return strings.ReplaceAll(v, ",", `\,`)
}

// NormalizeDN renders an X.509 subject as "/KEY=VALUE/KEY=VALUE/...",
// preserving the RDN order the certificate encodes. Attribute types this
// system does not recognize are rendered by their dotted OID, matching what
// a cert tool would print for an attribute without a well-known short name.
func NormalizeDN(subject pkix.Name) string {
	var b strings.Builder
	for _, atv := range subject.Names {
		value, ok := atv.Value.(string)
		if !ok {
			continue
		}
		key, ok := shortName(atv.Type)
		if !ok {
			key = atv.Type.String()
		}
		b.WriteByte('/')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(escapeDNValue(value))
	}
	return b.String()
}

// matchesDN reports whether candidate identifies registered, either by
// exact equality or, when checkTrunc is set, because candidate is a prefix
// of registered (a client presenting a certificate subject that was
// truncated upstream of this process still resolves to the right user).
func matchesDN(registered, candidate string, checkTrunc bool) bool {
	if registered == candidate {
		return true
	}
	return checkTrunc && strings.HasPrefix(registered, candidate) && candidate != ""
}
