package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Sortable(t *testing.T) {
	a := New()
	b := New()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}

func TestGenerator_Deterministic(t *testing.T) {
	at := time.Date(2018, 3, 1, 13, 0, 0, 0, time.UTC)

	g1 := NewGenerator(7)
	g2 := NewGenerator(7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, g1.NewAt(at), g2.NewAt(at))
	}
}

func TestTime(t *testing.T) {
	at := time.Date(2018, 3, 1, 13, 0, 0, 0, time.UTC)
	s := NewGenerator(1).NewAt(at)

	got, err := Time(s)
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
