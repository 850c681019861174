// File: internal/browser/page_test.go
package browser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStaleElement(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"node removed", errors.New("Could not find node with given id"), true},
		{"dom error", errors.New("No node with given id found (-32000)"), true},
		{"detached", errors.New("element is detached from document"), true},
		{"wrapped", fmt.Errorf("clicking: %w", errors.New("node not found")), true},
		{"unrelated", errors.New("evaluation threw an exception"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsStaleElement(tc.err))
		})
	}
}

func TestJSEncode(t *testing.T) {
	assert.Equal(t, `["a","b"]`, JSEncode([]string{"a", "b"}))
	assert.Equal(t, `"quote \" and newline \n"`, JSEncode("quote \" and newline \n"))
	assert.Equal(t, "null", JSEncode(func() {}), "unencodable values degrade to null")
}

func TestLooksLikeConnectionLost(t *testing.T) {
	assert.True(t, looksLikeConnectionLost(errors.New("websocket: close 1006 (abnormal closure)")))
	assert.True(t, looksLikeConnectionLost(errors.New("read tcp: connection reset by peer")))
	assert.False(t, looksLikeConnectionLost(errors.New("element not visible")))
	assert.False(t, looksLikeConnectionLost(nil))
}
