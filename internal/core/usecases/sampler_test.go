package usecases_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
	"github.com/samirrijal/pathkeeper/internal/core/usecases"
)

func TestSampler_AcquireOnceDiscardsCachedFix(t *testing.T) {
	var calls atomic.Int32
	src := &mockSource{requestFn: func(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error) {
		if calls.Add(1) == 1 {
			return rawFix(entityID, 1, 1, 5, time.Now().Add(-time.Hour)), nil
		}
		return rawFix(entityID, 2, 2, 5, time.Now()), nil
	}}

	raw, err := usecases.NewSampler(src).AcquireOnce(context.Background(), "e1", domain.DefaultSampleOptions())
	require.NoError(t, err)
	assert.Equal(t, 2.0, *raw.Latitude)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSampler_AcquireOnceAcceptsCacheWithinMaxAge(t *testing.T) {
	src := &mockSource{requestFn: func(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error) {
		return rawFix("", 1, 1, 5, time.Now().Add(-30*time.Second)), nil
	}}
	opts := domain.DefaultSampleOptions()
	opts.MaxCacheAge = time.Minute

	raw, err := usecases.NewSampler(src).AcquireOnce(context.Background(), "e1", opts)
	require.NoError(t, err)
	assert.Equal(t, "e1", raw.EntityID, "entity is filled in from the request")
}

func TestSampler_AcquireOnceTimeout(t *testing.T) {
	src := &mockSource{requestFn: func(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error) {
		<-ctx.Done()
		return domain.RawFix{}, ctx.Err()
	}}
	opts := domain.DefaultSampleOptions()
	opts.Timeout = 20 * time.Millisecond

	_, err := usecases.NewSampler(src).AcquireOnce(context.Background(), "e1", opts)
	var acq *domain.AcquisitionError
	require.ErrorAs(t, err, &acq)
	assert.Equal(t, domain.Timeout, acq.Kind)
	assert.Equal(t, "e1", acq.EntityID)
	assert.Contains(t, acq.Hint(), "outdoors")
}

func TestSampler_AcquireOnceTypedFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.AcquisitionKind
	}{
		{"permission denied", &domain.AcquisitionError{Kind: domain.PermissionDenied}, domain.PermissionDenied},
		{"untyped failure", errors.New("gps off"), domain.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{requestFn: func(ctx context.Context, entityID string, opts domain.SampleOptions) (domain.RawFix, error) {
				return domain.RawFix{}, tt.err
			}}
			_, err := usecases.NewSampler(src).AcquireOnce(context.Background(), "e1", domain.DefaultSampleOptions())
			var acq *domain.AcquisitionError
			require.ErrorAs(t, err, &acq)
			assert.Equal(t, tt.want, acq.Kind)
			assert.Equal(t, "e1", acq.EntityID)
		})
	}
}

func TestSampler_RequiresEntity(t *testing.T) {
	s := usecases.NewSampler(&mockSource{})
	_, err := s.AcquireOnce(context.Background(), "", domain.DefaultSampleOptions())
	assert.ErrorIs(t, err, domain.ErrEntityRequired)
	_, err = s.AcquireStream(context.Background(), "", domain.DefaultSampleOptions())
	assert.ErrorIs(t, err, domain.ErrEntityRequired)
}

func TestSampler_AcquireStreamCancel(t *testing.T) {
	watching := make(chan struct{})
	stopped := make(chan struct{})
	src := &mockSource{watchFn: func(ctx context.Context, entityID string, opts domain.SampleOptions, fixes chan<- domain.RawFix, errs chan<- error) error {
		close(watching)
		fixes <- rawFix(entityID, 1, 1, 5, time.Now())
		<-ctx.Done()
		close(stopped)
		return nil
	}}

	sub, err := usecases.NewSampler(src).AcquireStream(context.Background(), "e1", domain.DefaultSampleOptions())
	require.NoError(t, err)
	<-watching

	select {
	case f := <-sub.C():
		assert.Equal(t, "e1", f.EntityID)
	case <-time.After(time.Second):
		t.Fatal("no fix delivered")
	}

	sub.Cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("source watch not cancelled")
	}
	_, open := <-sub.C()
	assert.False(t, open)
	sub.Cancel() // second cancel is a no-op
}

func TestSampler_AcquireStreamSurfacesSourceFailure(t *testing.T) {
	src := &mockSource{watchFn: func(ctx context.Context, entityID string, opts domain.SampleOptions, fixes chan<- domain.RawFix, errs chan<- error) error {
		return errors.New("broker gone")
	}}

	sub, err := usecases.NewSampler(src).AcquireStream(context.Background(), "e1", domain.DefaultSampleOptions())
	require.NoError(t, err)

	select {
	case err := <-sub.Err():
		var acq *domain.AcquisitionError
		require.ErrorAs(t, err, &acq)
		assert.Equal(t, domain.Unavailable, acq.Kind)
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not end")
	}
}
