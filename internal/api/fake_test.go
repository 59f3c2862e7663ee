package api

import (
	"context"
	"errors"

	"github.com/MrWong99/fishtank/internal/negotiation"
	"github.com/MrWong99/fishtank/internal/session"
)

var errBackend = errors.New("postgres: connection refused at 10.0.0.7")

// failingSessions fails every call with a backend error.
type failingSessions struct{}

func (failingSessions) StartSession(context.Context) (*negotiation.Start, error) {
	return nil, errBackend
}

func (failingSessions) Reply(context.Context, string, string, string) (*negotiation.Turn, error) {
	return nil, errBackend
}

func (failingSessions) Autopilot(context.Context, string) (*negotiation.Turn, error) {
	return nil, errBackend
}

func (failingSessions) Get(context.Context, string) (*session.Session, error) {
	return nil, errBackend
}

func (failingSessions) Delete(context.Context, string) error { return errBackend }
