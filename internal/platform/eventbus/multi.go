package eventbus

import (
	"context"
	"errors"

	"duel_arena/internal/domain/model"
)

// Multi publishes to every sink and joins their errors; one failing sink does not
// stop the others.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e model.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
