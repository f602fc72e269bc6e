package requestlog

import (
	"context"
	"errors"
)

// Multi appends to every sink. A failing sink does not stop the others.
type Multi []Sink

func (m Multi) Append(ctx context.Context, e Entry) error {
	e = prepare(e)

	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
