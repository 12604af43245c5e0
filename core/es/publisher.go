package es

import "context"

// EventPublisher delivers committed events to the rest of the application.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type EventPublisherFunc func(ctx context.Context, events ...Event) error

func (f EventPublisherFunc) Publish(ctx context.Context, events ...Event) error {
	return f(ctx, events...)
}
