package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	err   error
	calls int
}

func (p *fakePinger) Ping(_ context.Context) error {
	p.calls++
	return p.err
}

func TestHealthProbeJob_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("all stores reachable", func(t *testing.T) {
		db := &fakePinger{}
		cache := &fakePinger{}
		job := NewHealthProbeJob(db, cache, nil)

		assert.NoError(t, job.Run(ctx))
		assert.Equal(t, 1, db.calls)
		assert.Equal(t, 1, cache.calls)
	})

	t.Run("nil cache is skipped", func(t *testing.T) {
		db := &fakePinger{}
		job := NewHealthProbeJob(db, nil, nil)

		assert.NoError(t, job.Run(ctx))
		assert.Equal(t, 1, db.calls)
	})

	t.Run("database failure is reported", func(t *testing.T) {
		dbErr := errors.New("connection refused")
		job := NewHealthProbeJob(&fakePinger{err: dbErr}, &fakePinger{}, nil)

		err := job.Run(ctx)
		assert.ErrorIs(t, err, dbErr)
	})

	t.Run("both failures are joined", func(t *testing.T) {
		dbErr := errors.New("db down")
		cacheErr := errors.New("cache down")
		job := NewHealthProbeJob(&fakePinger{err: dbErr}, &fakePinger{err: cacheErr}, nil)

		err := job.Run(ctx)
		assert.ErrorIs(t, err, dbErr)
		assert.ErrorIs(t, err, cacheErr)
	})
}
