// Package analysis submits snapshots to the remote face analysis service.
package analysis

import (
	"context"
	"strings"

	"github.com/andresmejia3/facelens/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client analyzes one snapshot. Implementations never return Go errors: every
// failure is folded into a types.TransportError and a decline into types.Rejected.
// Analyze blocks until the answer arrives; callers that must stay responsive run
// it on their own goroutine.
type Client interface {
	Analyze(ctx context.Context, snap *types.Snapshot) types.Result
}

// Waker is implemented by clients whose endpoint may be asleep and benefits from
// a warm-up request before the first real capture.
type Waker interface {
	Wake(ctx context.Context) error
}

const declinedReason = "analysis declined"

// Decode interprets a response body from the service.
func Decode(body []byte) types.Result {
	var pl types.Payload
	if err := json.Unmarshal(body, &pl); err != nil {
		if msg := analyzerError(body); msg != "" {
			return types.TransportError{Detail: "analyzer error: " + msg}
		}
		return types.TransportError{Detail: "malformed response", Err: err}
	}

	if pl.Success == nil {
		if msg := analyzerError(body); msg != "" {
			return types.TransportError{Detail: "analyzer error: " + msg}
		}
		return types.TransportError{Detail: "malformed response: missing Success flag"}
	}

	if !*pl.Success {
		reason := strings.TrimSpace(pl.Reason)
		if reason == "" {
			reason = declinedReason
		}
		return types.Rejected{Reason: reason}
	}

	return types.Success{
		Details:    pl.FaceDetails,
		FacesCount: pl.FacesCount,
		Elapsed:    pl.TimeElapsed,
	}
}

func analyzerError(body []byte) string {
	var er types.ErrorResult
	if json.Unmarshal(body, &er) == nil {
		return strings.TrimSpace(er.Error)
	}
	return ""
}

// excerpt trims a body for inclusion in an error message.
func excerpt(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
