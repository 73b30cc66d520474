package logring

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/commandxml/internal/channel"
)

func TestLinesPadsShortHistory(t *testing.T) {
	r := New(5)
	r.Append("one")
	r.Append("two")

	lines := r.Lines()
	require.Len(t, lines, 5)
	assert.Equal(t, []string{BlankLine, BlankLine, BlankLine, "one", "two"}, lines)
}

func TestLinesKeepsMostRecent(t *testing.T) {
	r := New(3)
	for i := range 10 {
		r.Append(fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, []string{"line 7", "line 8", "line 9"}, r.Lines())
	assert.Equal(t, 10, r.Len())
	assert.Len(t, r.History(), 10)
	assert.Equal(t, "line 0", r.History()[0])
}

func TestRenderAlwaysCapacity(t *testing.T) {
	for _, m := range []int{0, 1, 24, 25, 26, 100} {
		t.Run(fmt.Sprintf("m=%d", m), func(t *testing.T) {
			r := New(0)
			for i := range m {
				r.Append(fmt.Sprintf("entry %d", i))
			}

			doc := channel.NewDocument(nil)
			r.Render(doc)
			require.Len(t, doc.Console.Lines, DefaultCapacity)

			if m > 0 {
				assert.Equal(t, fmt.Sprintf("entry %d", m-1), doc.Console.Lines[DefaultCapacity-1])
			}
			if m > DefaultCapacity {
				assert.Equal(t, fmt.Sprintf("entry %d", m-DefaultCapacity), doc.Console.Lines[0])
			}
		})
	}
}

func TestRenderCreatesMissingConsole(t *testing.T) {
	r := New(2)
	doc := &channel.Document{}
	r.Render(doc)
	require.NotNil(t, doc.Console)
	assert.Len(t, doc.Console.Lines, 2)
}

func TestConcurrentReaders(t *testing.T) {
	r := New(4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 200 {
			r.Append(fmt.Sprintf("%d", i))
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				assert.Len(t, r.Lines(), 4)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, r.Len())
}

func TestBlankLineWidth(t *testing.T) {
	assert.Len(t, BlankLine, 78)
}
