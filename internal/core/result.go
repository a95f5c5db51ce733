package core

import (
	"fmt"
	"time"

	"github.com/rafabd1/Wildfuzz/internal/networking"
	"github.com/rafabd1/Wildfuzz/internal/wildcard"
)

// FailedStatus is reported by results whose request never got a response.
const FailedStatus = 0

// Result is the outcome of one task or synchronous send. It is not modified
// after it has been handed to a callback or listener.
type Result struct {
	ID         int64
	EngineID   int64
	Target     networking.Target
	Request    *networking.Request
	Response   *networking.Response // nil when every attempt failed
	Elapsed    time.Duration
	LearnGroup int
	Attempts   int
	Failure    string // diagnostic of the last error when Response is nil

	signature   wildcard.Signature
	interesting bool
}

func newResult(id, engineID int64, target networking.Target, req *networking.Request, learnGroup int) *Result {
	return &Result{ID: id, EngineID: engineID, Target: target, Request: req, LearnGroup: learnGroup}
}

func (r *Result) succeed(ex *networking.Exchange, attempts int) {
	r.Response = ex.Response
	r.Elapsed = ex.Elapsed
	r.Attempts = attempts
	r.signature = wildcard.Extract(ex.Response.StatusCode, ex.Response.Header, ex.Response.Body)
}

func (r *Result) fail(err error, attempts int, elapsed time.Duration) {
	r.Response = nil
	r.Attempts = attempts
	r.Elapsed = elapsed
	r.Failure = err.Error()
}

// Failed reports whether the request never got a response.
func (r *Result) Failed() bool { return r.Response == nil }

// Interesting reports the classification made after the response arrived.
// Learning results and failures are never interesting.
func (r *Result) Interesting() bool { return r.interesting }

// IsLearning reports whether the result was fed to the wildcard learner.
func (r *Result) IsLearning() bool { return r.LearnGroup > 0 }

// StatusCode returns the response status, or FailedStatus.
func (r *Result) StatusCode() int {
	if r.Response == nil {
		return FailedStatus
	}
	return r.Response.StatusCode
}

// Body returns the response body, or the failure diagnostic.
func (r *Result) Body() []byte {
	if r.Response == nil {
		return []byte(r.Failure)
	}
	return r.Response.Body
}

// Length returns the size of the response body, or 0 on failure.
func (r *Result) Length() int {
	if r.Response == nil {
		return 0
	}
	return len(r.Response.Body)
}

// Signature returns the wildcard signature of the response.
func (r *Result) Signature() wildcard.Signature { return r.signature }

func (r *Result) String() string {
	if r.Failed() {
		return fmt.Sprintf("#%d %s -> failed after %d attempt(s): %s", r.ID, r.Request, r.Attempts, r.Failure)
	}
	return fmt.Sprintf("#%d %s -> %d (%d bytes, %s)", r.ID, r.Request, r.StatusCode(), r.Length(), r.Elapsed.Round(time.Millisecond))
}
