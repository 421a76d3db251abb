package ingest

import (
	"fmt"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/domain/product"
)

// State is a stage of a submission.
type State int

const (
	Idle State = iota
	Validating
	Encoding
	Uploading
	Committing
	Succeeded
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Validating: "validating",
	Encoding:   "encoding",
	Uploading:  "uploading",
	Committing: "committing",
	Succeeded:  "succeeded",
	Failed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Busy reports whether work is in flight, i.e. a loading indicator should
// be shown.
func (s State) Busy() bool {
	return s >= Validating && s <= Committing
}

// Terminal reports whether s ends a submission.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Outcome is the single terminal result of a submission.
type Outcome struct {
	State State
	// Record is set when State is Succeeded.
	Record *product.Product
	// Err is set when State is Failed. It is one of *product.ValidationError,
	// *asset.EncodingError, *asset.UploadError, *CommitError or
	// ErrAlreadySubmitted.
	Err error
	// Orphans lists uploaded objects that were not committed and remain in
	// the object store.
	Orphans []asset.Ref
}

// Observer receives the progress of a submission. Calls for one submission
// are made sequentially from a single goroutine.
type Observer interface {
	Transition(from, to State)
	Done(Outcome)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnTransition func(from, to State)
	OnDone       func(Outcome)
}

func (o ObserverFuncs) Transition(from, to State) {
	if o.OnTransition != nil {
		o.OnTransition(from, to)
	}
}

func (o ObserverFuncs) Done(out Outcome) {
	if o.OnDone != nil {
		o.OnDone(out)
	}
}

type nopObserver struct{}

func (nopObserver) Transition(State, State) {}
func (nopObserver) Done(Outcome)            {}
