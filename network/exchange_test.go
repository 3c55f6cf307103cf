package network

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrafficRedirects(t *testing.T) {
	t.Parallel()

	tr := NewTraffic()
	first := tr.AddRequest(&Request{ID: "42", URL: "http://example.com/"})
	second := tr.AddRequest(&Request{ID: "42", URL: "https://example.com/"})
	tr.AddRequest(&Request{ID: "7", URL: "https://example.com/app.js"})

	got, ok := tr.Latest("42")
	require.True(t, ok)
	assert.Same(t, second, got)

	ex, ok := tr.SetResponse(&Response{RequestID: "42", Status: 200})
	require.True(t, ok)
	assert.Same(t, second, ex)
	assert.True(t, second.Completed())
	assert.False(t, first.Completed())

	assert.Equal(t, []*Exchange{first, second}, tr.All("42"))
	assert.Len(t, tr.Exchanges(), 3)
}

func TestTrafficMissing(t *testing.T) {
	t.Parallel()

	tr := NewTraffic()
	_, ok := tr.Latest("nope")
	assert.False(t, ok)
	_, ok = tr.SetResponse(&Response{RequestID: "nope"})
	assert.False(t, ok)

	tr.AddRequest(&Request{ID: "1"})
	tr.Clear()
	_, ok = tr.Latest("1")
	assert.False(t, ok)
	assert.Empty(t, tr.Exchanges())
}

func TestTrafficConcurrentAccess(t *testing.T) {
	t.Parallel()

	tr := NewTraffic()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.AddRequest(&Request{ID: "1"})
		}()
		go func() {
			defer wg.Done()
			_, _ = tr.Latest("1")
			_, _ = tr.SetResponse(&Response{RequestID: "1"})
		}()
	}
	wg.Wait()
	assert.Len(t, tr.All("1"), 50)
}
