package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublish(t *testing.T) {
	assert.False(t, Publish(nil, Alert{Text: "x"}))

	ch := make(chan Alert, 1)
	assert.True(t, Publish(ch, Alert{Text: "first"}))
	assert.False(t, Publish(ch, Alert{Text: "second"}), "full buffer drops")

	a := <-ch
	assert.Equal(t, "first", a.Text)
	assert.False(t, a.At.IsZero())
}
