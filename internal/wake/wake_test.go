package wake

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPorcupine_MissingAccessKey(t *testing.T) {
	p, err := NewPorcupine("  ", 0.5)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, ErrEngineInit))
}
