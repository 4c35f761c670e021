package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClockSigner(at time.Time) *HMACSignatureService {
	return &HMACSignatureService{now: func() time.Time { return at }}
}

func TestSignature_RoundTrip(t *testing.T) {
	svc := NewHMACSignatureService()

	payloads := [][]byte{
		[]byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`),
		[]byte(""),
		[]byte(`{"nested":{"deep":[1,2,3]}}`),
	}
	secrets := []string{"whsec_abc", "whsec_" + string(make([]byte, 32)), "s"}

	for _, payload := range payloads {
		for _, secret := range secrets {
			header := svc.Sign(payload, secret)
			assert.True(t, svc.Verify(payload, header, secret),
				"round trip failed for payload %q", payload)
		}
	}
}

func TestSignature_HeaderFormat(t *testing.T) {
	at := time.Unix(1700000000, 0)
	svc := fixedClockSigner(at)

	header := svc.Sign([]byte("hello"), "secret")
	assert.Contains(t, header, "t=1700000000,")
	assert.Contains(t, header, "v1=")
}

func TestSignature_WrongSecret(t *testing.T) {
	svc := NewHMACSignatureService()
	header := svc.Sign([]byte("payload"), "secret-a")
	assert.False(t, svc.Verify([]byte("payload"), header, "secret-b"))
}

func TestSignature_TamperedPayload(t *testing.T) {
	svc := NewHMACSignatureService()
	header := svc.Sign([]byte(`{"amount":100}`), "secret")
	assert.False(t, svc.Verify([]byte(`{"amount":999}`), header, "secret"))
}

func TestSignature_ToleranceBoundary(t *testing.T) {
	now := time.Unix(1700000000, 0)
	svc := fixedClockSigner(now)
	payload := []byte("payload")

	// Exactly tolerance seconds old: accepted.
	atBoundary := svc.SignAt(payload, "secret", now.Add(-signatureTolerance))
	assert.True(t, svc.Verify(payload, atBoundary, "secret"))

	// tolerance+1 seconds old: rejected.
	past := svc.SignAt(payload, "secret", now.Add(-signatureTolerance-time.Second))
	assert.False(t, svc.Verify(payload, past, "secret"))

	// Future timestamps get the same window.
	future := svc.SignAt(payload, "secret", now.Add(signatureTolerance+time.Second))
	assert.False(t, svc.Verify(payload, future, "secret"))
}

func TestSignature_FailsClosedOnParseErrors(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := []byte("payload")

	valid := svc.Sign(payload, "secret")
	require.True(t, svc.Verify(payload, valid, "secret"))

	bad := []string{
		"",
		"garbage",
		"t=,v1=abc",
		"t=notanumber,v1=abc",
		"t=1700000000",      // missing v1
		"v1=deadbeef",       // missing t
		"t=1700000000,v1=",  // empty digest
		"t 1700000000 v1 x", // no separators
	}
	for _, header := range bad {
		assert.False(t, svc.Verify(payload, header, "secret"), "header %q should fail closed", header)
	}
}

func TestSignature_IgnoresUnknownSchemes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	svc := fixedClockSigner(now)
	payload := []byte("payload")

	header := svc.Sign(payload, "secret")
	// Future scheme versions may appear alongside v1; they are ignored.
	extended := header + ",v2=" + fmt.Sprintf("%x", "something-else")
	assert.True(t, svc.Verify(payload, extended, "secret"))
}
