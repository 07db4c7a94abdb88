package internal

import (
	"context"
	"time"
)

// AuthStatus is the library's answer to whether this process may change it.
type AuthStatus int

const (
	AuthNotDetermined AuthStatus = iota
	AuthRestricted
	AuthDenied
	AuthAuthorized
)

func (s AuthStatus) String() string {
	switch s {
	case AuthRestricted:
		return "restricted"
	case AuthDenied:
		return "denied"
	case AuthAuthorized:
		return "authorized"
	}
	return "not determined"
}

// Collection is a named album in the library.
type Collection struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Asset is one imported file as recorded in the library. Path points at the
// stored bytes inside the library.
type Asset struct {
	ID        string
	Filename  string
	SHA256    string
	Format    string
	Size      int64
	Path      string
	CreatedAt time.Time
}

// OutcomeStatus is the terminal state of one commit.
type OutcomeStatus int

const (
	OutcomeSucceeded OutcomeStatus = iota
	OutcomeFailed
	OutcomeTimedOut
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeTimedOut:
		return "timed out"
	}
	return "failed"
}

// Outcome is delivered exactly once per CommitAsset call.
type Outcome struct {
	Status OutcomeStatus
	Err    error
	Asset  *Asset
}

// Gateway is the transactional photo library the pipeline imports into.
type Gateway interface {
	AuthorizationStatus() AuthStatus
	RequestAuthorization(ctx context.Context) AuthStatus

	// ResolveOrCreateCollection returns the collection titled name, creating
	// it if no such collection exists. Calling it repeatedly never produces
	// duplicates.
	ResolveOrCreateCollection(ctx context.Context, name string) (*Collection, error)

	// CommitAsset adds data as a new asset of collection in one transaction.
	// It returns immediately; done runs once, on another goroutine, with the
	// outcome.
	CommitAsset(ctx context.Context, data []byte, filename string, collection *Collection, done func(Outcome))
}
