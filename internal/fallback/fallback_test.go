package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrategy_PrimarySucceeds(t *testing.T) {
	s := Strategy{Primary: func(ctx context.Context) (any, error) { return "primary", nil }}
	res := s.Execute(context.Background())
	assert.Equal(t, Primary, res.Source)
	assert.Equal(t, "primary", res.Value)
}

func TestStrategy_SequentialFallsBackInOrder(t *testing.T) {
	s := Strategy{
		Primary: func(ctx context.Context) (any, error) { return nil, errors.New("primary down") },
		Fallbacks: []Op{
			func(ctx context.Context) (any, error) { return nil, errors.New("fb1 down") },
			func(ctx context.Context) (any, error) { return "fb2", nil },
		},
	}
	res := s.Execute(context.Background())
	assert.Equal(t, Fallback, res.Source)
	assert.Equal(t, "fb2", res.Value)
	assert.Len(t, res.Errors, 2)
}

func TestStrategy_AllFail(t *testing.T) {
	s := Strategy{
		Primary:   func(ctx context.Context) (any, error) { return nil, errors.New("primary") },
		Fallbacks: []Op{func(ctx context.Context) (any, error) { return nil, errors.New("fb") }},
	}
	res := s.Execute(context.Background())
	assert.Equal(t, Failure, res.Source)
	assert.Len(t, res.Errors, 2)
}

func TestStrategy_ParallelTakesFirstSuccess(t *testing.T) {
	s := Strategy{
		Primary:  func(ctx context.Context) (any, error) { return nil, errors.New("primary") },
		Parallel: true,
		Fallbacks: []Op{
			func(ctx context.Context) (any, error) { return "a", nil },
			func(ctx context.Context) (any, error) { return "b", nil },
		},
	}
	res := s.Execute(context.Background())
	assert.Equal(t, Fallback, res.Source)
	assert.Contains(t, []string{"a", "b"}, res.Value)
}
