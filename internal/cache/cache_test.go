package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/listings-crawler/internal/model"
)

func detailsWithPhone(p string) model.DetailFields {
	d := model.NotFoundDetails()
	d.Phone = model.Found(p)
	return d
}

func TestMemory_GetMiss(t *testing.T) {
	c := NewMemory()
	_, ok := c.Get(context.Background(), "https://maps.example.com/place/a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestMemory_PutThenGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	c.Put(ctx, "link-a", detailsWithPhone("111"))

	got, ok := c.Get(ctx, "link-a")
	assert.True(t, ok)
	assert.Equal(t, "111", got.Phone.Value)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_FirstWriteWins(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	c.Put(ctx, "link-a", detailsWithPhone("111"))
	c.Put(ctx, "link-a", detailsWithPhone("222"))

	got, _ := c.Get(ctx, "link-a")
	assert.Equal(t, "111", got.Phone.Value)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_ConcurrentSameLink(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c.Put(ctx, "shared", detailsWithPhone(fmt.Sprintf("%03d", i)))
		}(i)
	}
	close(start)
	wg.Wait()

	first, ok := c.Get(ctx, "shared")
	assert.True(t, ok)
	for i := 0; i < 10; i++ {
		again, _ := c.Get(ctx, "shared")
		assert.Equal(t, first, again, "entry must never be overwritten")
	}
	assert.Equal(t, 1, c.Len())
}

func TestMemory_Stats(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	c.Put(ctx, "a", detailsWithPhone("1"))
	c.Get(ctx, "a")
	c.Get(ctx, "a")
	c.Get(ctx, "b")

	s := c.Stats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.667, s.HitRate, 0.001)
}

func TestMemory_StatsEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, NewMemory().Stats())
}
