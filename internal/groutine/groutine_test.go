package groutine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/motolink/internal/groutine"
	"github.com/stretchr/testify/assert"
)

func TestGo_PropagatesName(t *testing.T) {
	names := make(chan string, 1)

	groutine.Go(nil, "link-worker", func(ctx context.Context) { //nolint:staticcheck // nil parent is supported
		names <- groutine.GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "link-worker", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Empty(t, groutine.GetName(context.Background()))
	assert.Empty(t, groutine.GetName(nil)) //nolint:staticcheck // nil context is supported
}

func TestGroup_Wait(t *testing.T) {
	var g groutine.Group
	var done atomic.Int32

	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "op", func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
		})
	}
	g.Wait()

	assert.EqualValues(t, 5, done.Load(), "Wait MUST return only after all goroutines finished")
}
