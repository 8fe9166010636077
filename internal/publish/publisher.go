// Package publish delivers encoded packets: best-effort UDP to the game
// client, plus an optional websocket mirror for browser viewers.
package publish

import "errors"

// Publisher sends one encoded packet. Errors are informational; the
// pipeline never retries or slows down because of them.
type Publisher interface {
	Publish(payload []byte) error
	Close() error
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

// Publish sends payload to every publisher and joins their errors.
func (f Fanout) Publish(payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher, even if earlier ones fail.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
