// File: internal/browser/snapshot_test.go
//go:build !integration

package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSnapshot = `
uid=1_0 RootWebArea "Example Store"
  uid=1_1 navigation
    uid=1_2 link "Home"
    uid=1_3 link "Cart"
  uid=1_4 main
    uid=1_5 heading "Featured"
    uid=1_6 button "Add to cart"
    uid=1_7 searchbox "Search products"
`

func TestResolveUID(t *testing.T) {
	testCases := []struct {
		name     string
		selector string
		roles    []string
		want     string
	}{
		{"literal uid", "1_6", nil, "1_6"},
		{"role selector", "role:searchbox", nil, "1_7"},
		{"role plus text", "Add to cart", []string{"button", "link"}, "1_6"},
		{"text on preferred role", "Cart", []string{"link"}, "1_3"},
		{"first preferred role", "something unrelated but long", []string{"button"}, "1_6"},
		{"plain text match", "Featured", nil, "1_5"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			uid, err := resolveUID(sampleSnapshot, tc.selector, tc.roles)
			require.NoError(t, err)
			assert.Equal(t, tc.want, uid)
		})
	}
}

func TestResolveUIDRejectsCSS(t *testing.T) {
	_, err := resolveUID(sampleSnapshot, "div#checkout > button.primary", []string{"button"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSS selector")
}

func TestResolveUIDEmptySnapshot(t *testing.T) {
	_, err := resolveUID("", "Submit", []string{"button"})
	require.Error(t, err)
}

func TestResolveUIDUnknownRole(t *testing.T) {
	_, err := resolveUID(sampleSnapshot, "role:slider", nil)
	require.Error(t, err)
}
