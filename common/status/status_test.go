package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifeCycle(t *testing.T) {
	var s Status
	assert.True(t, Load(&s).Ready())
	assert.True(t, CAP(&s, Ready, Running))
	assert.False(t, CAP(&s, Ready, Running))
	assert.True(t, Load(&s).Running())
	assert.True(t, CAP(&s, Running, Closed))
	assert.True(t, Load(&s).Closed())
	assert.Equal(t, "closed", Load(&s).String())
	assert.Equal(t, "unknown", Status(9).String())
}
