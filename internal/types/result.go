package types

// Result is the outcome of one analysis request. It is always one of
// Success, Rejected or TransportError.
type Result interface {
	result()
}

// Success carries the face details of an accepted snapshot.
type Success struct {
	Details    *FaceDetails
	FacesCount int
	Elapsed    string
}

// Rejected means the service answered but declined the snapshot
// (no face, several faces, face not contained...). It is not a fault.
type Rejected struct {
	Reason string
}

// TransportError means the service could not be reached or answered with
// something that is not a valid payload.
type TransportError struct {
	Detail string
	Err    error
}

func (Success) result()        {}
func (Rejected) result()       {}
func (TransportError) result() {}

func (e TransportError) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e TransportError) Unwrap() error { return e.Err }

// Outcome names the variant, as stored in the analysis history.
func Outcome(r Result) string {
	switch r.(type) {
	case Success, *Success:
		return "success"
	case Rejected, *Rejected:
		return "rejected"
	case TransportError, *TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}
