// Package certs provides decoding and structural validation for the
// certificate material flowing through the coordinator: base64-wrapped
// payloads, PEM/DER certificates, certificate signing requests, and
// concatenated CA chain blobs.
//
// Validation here is structural, not semantic. Nothing in this package
// verifies signatures, expiry, or chain-of-trust; the coordinator
// distributes certificates, it does not vouch for them.
package certs

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrDecoding is returned when an input is not valid base64.
var ErrDecoding = errors.New("invalid base64 input")

const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypeCSR         = "CERTIFICATE REQUEST"

	chainBeginMarker = "-----BEGIN CERTIFICATE-----"
	chainEndMarker   = "-----END CERTIFICATE-----"
)

// Decode decodes a base64 string using the standard alphabet with strict
// padding. Malformed input is reported as ErrDecoding.
func Decode(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return data, nil
}

// CertificateIsValid reports whether data parses as an X.509 certificate.
// Both PEM (a single CERTIFICATE block) and raw DER are accepted.
// Malformed input yields false, never an error.
func CertificateIsValid(data []byte) bool {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != pemTypeCertificate {
			return false
		}
		der = block.Bytes
	}
	_, err := x509.ParseCertificate(der)
	return err == nil
}

// CertificateSigningRequestIsValid reports whether data parses as a PKCS#10
// certificate signing request, PEM or raw DER. Malformed input yields false.
func CertificateSigningRequestIsValid(data []byte) bool {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != pemTypeCSR {
			return false
		}
		der = block.Bytes
	}
	_, err := x509.ParseCertificateRequest(der)
	return err == nil
}

// ParseCAChain splits a blob of concatenated PEM certificate blocks into
// individual blocks, delimiters included, in the order they appear. The
// blocks are not parsed or validated; callers that care about validity
// check each element with CertificateIsValid. A blob without any PEM
// markers yields an empty slice. An unterminated trailing block is dropped.
func ParseCAChain(text string) []string {
	chain := []string{}
	rest := text
	for {
		begin := strings.Index(rest, chainBeginMarker)
		if begin < 0 {
			break
		}
		end := strings.Index(rest[begin:], chainEndMarker)
		if end < 0 {
			break
		}
		stop := begin + end + len(chainEndMarker)
		chain = append(chain, rest[begin:stop])
		rest = rest[stop:]
	}
	return chain
}
