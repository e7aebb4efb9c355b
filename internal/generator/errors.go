package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	// KindTransport marks transient service failures (overloaded,
	// unavailable). Retried by the caller; surfaced only on exhaustion.
	KindTransport ErrorKind = "transport"
	// KindCredential marks invalid or missing API credentials. Never retried.
	KindCredential ErrorKind = "credential"
	// KindShape marks a structurally invalid response from a stage (missing
	// fields, wrong part count, unparseable JSON). Never retried.
	KindShape ErrorKind = "shape"
	// KindEnrichment marks a single checklist-enrichment failure. Recovered
	// locally; never aborts a run.
	KindEnrichment ErrorKind = "enrichment"
	// KindUnknown covers anything unclassified. Treated as terminal.
	KindUnknown ErrorKind = "unknown"
)

var (
	// ErrRunInProgress is returned by StartRun while another run is active.
	ErrRunInProgress = errors.New("a generation run is already in progress")
	// ErrNoPendingChoice is returned by ChooseCommit outside the
	// awaiting-choice state.
	ErrNoPendingChoice = errors.New("no commit choice is pending")
)

// StageError is a classified failure of one pipeline stage. Part is the
// 1-indexed part number when the failure occurred inside the expansion loop,
// 0 otherwise. Message is safe to show to the user.
type StageError struct {
	Stage   string
	Part    int
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Part > 0 {
		return fmt.Sprintf("%s failed at part %d: %s", e.Stage, e.Part, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// classifyError decides whether a generative-service error is transient,
// a credential problem, or terminal. Unclassified errors are terminal.
func classifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	// A deadline inside the provider's own HTTP client times out that one
	// call; the run is still live, so the call is retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return KindTransport
		case 401, 403:
			return KindCredential
		}
		return KindUnknown
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "503"):
		return KindTransport
	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "invalid credentials"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return KindCredential
	}
	return KindUnknown
}

// isCancellation reports whether err is a cooperative-cancellation error
// rather than a stage failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
