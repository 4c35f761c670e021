package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// signatureTolerance is the replay window for webhook signature
// verification. It is a fixed contract shared with merchant SDKs, not
// caller-configurable.
const signatureTolerance = 300 * time.Second

// HMACSignatureService implements ports.SignatureService.
// Signatures bind the payload to a timestamp:
//
//	t=<unixSeconds>,v1=<hex HMAC-SHA256 of "<unixSeconds>.<payload>">
type HMACSignatureService struct {
	now func() time.Time
}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{now: time.Now}
}

// Sign produces a signature header for payload using the current time.
func (s *HMACSignatureService) Sign(payload []byte, secret string) string {
	return s.SignAt(payload, secret, s.now())
}

// SignAt produces a signature header bound to the given timestamp.
// Exposed so merchants' own verification and tests can reproduce
// historical signatures.
func (s *HMACSignatureService) SignAt(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeV1(payload, secret, ts))
}

// Verify checks a signature header against payload. It fails closed:
// any parse error, a timestamp outside the tolerance window, or a
// digest mismatch all return false.
func (s *HMACSignatureService) Verify(payload []byte, signatureHeader, secret string) bool {
	ts, v1, ok := parseSignatureHeader(signatureHeader)
	if !ok {
		return false
	}

	drift := s.now().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(signatureTolerance.Seconds()) {
		return false
	}

	expected := computeV1(payload, secret, ts)
	return hmac.Equal([]byte(expected), []byte(v1))
}

// computeV1 is HMAC-SHA256 over "<ts>.<payload>", hex-encoded.
func computeV1(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseSignatureHeader extracts t= and v1= from a signature header.
func parseSignatureHeader(header string) (ts int64, v1 string, ok bool) {
	var haveTS, haveV1 bool
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, "", false
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", false
			}
			ts, haveTS = n, true
		case "v1":
			if value == "" {
				return 0, "", false
			}
			v1, haveV1 = value, true
		}
	}
	return ts, v1, haveTS && haveV1
}
