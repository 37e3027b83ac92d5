package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupReturnsFirstError(t *testing.T) {
	g, _ := WithContext(context.Background())

	boom := errors.New("boom")
	g.Go(func() error { return boom })
	g.Go(func() error { return nil })

	require.ErrorIs(t, g.Wait(), boom)
}

func TestGroupRepanicsOnWait(t *testing.T) {
	g, _ := WithContext(context.Background())

	g.Go(func() error { return nil })
	g.Go(func() error { panic("task exploded") })

	defer func() {
		r := recover()
		require.Equal(t, "task exploded", r)
	}()
	g.Wait() //nolint:errcheck
	t.Fatal("Wait returned instead of re-panicking")
}

func TestGroupPanicCancelsSiblings(t *testing.T) {
	g, gctx := WithContext(context.Background())

	g.Go(func() error { panic("first") })
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	require.Panics(t, func() { g.Wait() }) //nolint:errcheck
}

func TestGroupSetLimit(t *testing.T) {
	g, _ := WithContext(context.Background())
	g.SetLimit(1)

	ran := 0
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			ran++
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 5, ran)
}
