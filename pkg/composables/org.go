package composables

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forgeworks/cutover/pkg/constants"
)

var ErrNoOrgID = errors.New("no org id found in context")

// WithOrgID scopes ctx to one organization. Every durable row the engine
// writes is keyed by this id.
func WithOrgID(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.OrgIDKey, orgID)
}

func UseOrgID(ctx context.Context) (uuid.UUID, error) {
	v := ctx.Value(constants.OrgIDKey)
	if v == nil {
		return uuid.Nil, ErrNoOrgID
	}
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrNoOrgID
	}
	return id, nil
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request/job logger from ctx, or a discarding entry.
func UseLogger(ctx context.Context) *logrus.Entry {
	v := ctx.Value(constants.LoggerKey)
	if v == nil {
		l := logrus.New()
		l.SetOutput(nopWriter{})
		return logrus.NewEntry(l)
	}
	return v.(*logrus.Entry)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
