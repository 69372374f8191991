package gateway

import (
	"bytes"
	"io"
	"net"
	"net/http"

	"github.com/ajiwo/rlgate/keys"
)

// buildFingerprint derives the request fingerprint consumed by the
// strategy/key extractors. When bufferBody is true, only the first
// maxBodyBytes+1 bytes are peeked for extraction purposes -- a body over
// the ceiling is kept as a Fingerprint with no Body, which downstream
// extractors already treat as an ExtractionMiss. The peeked bytes are
// stitched back in front of whatever remains unread on r.Body, so the
// proxy leg still forwards the complete, untruncated body regardless of
// the extraction ceiling.
func buildFingerprint(r *http.Request, bufferBody bool, maxBodyBytes int64) (keys.Fingerprint, error) {
	fp := keys.Fingerprint{
		IP:          clientIP(r),
		Path:        r.URL.Path,
		Headers:     r.Header,
		Query:       r.URL.Query(),
		ContentType: r.Header.Get("Content-Type"),
	}

	if !bufferBody || r.Body == nil {
		return fp, nil
	}

	peeked, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(peeked), r.Body))
	if err != nil {
		return fp, err
	}

	if int64(len(peeked)) <= maxBodyBytes {
		fp.Body = peeked
	}
	// else: over ceiling, leave fp.Body nil -> ExtractionMiss downstream;
	// r.ContentLength and r.Body are untouched beyond this reassembly, so
	// the upstream still receives every byte the client sent.
	return fp, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
