package loadtest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPicker_ExactRatioPerWindow(t *testing.T) {
	visitor := &UserType{Name: "Visitor", Weight: 1, Tasks: []Task{{Name: "listing", Fn: noop}}}
	nvidia := &UserType{Name: "Nvidia", Weight: 20, Tasks: []Task{{Name: "follow_advertisement", Fn: noop}}}

	picker, err := NewPicker([]*UserType{visitor, nvidia})
	require.NoError(t, err)

	for window := 0; window < 5; window++ {
		counts := map[string]int{}
		for i := 0; i < 21; i++ {
			counts[picker.Next().Name]++
		}
		assert.Equal(t, 20, counts["Nvidia"], "window %d", window)
		assert.Equal(t, 1, counts["Visitor"], "window %d", window)
	}
}

func TestPicker_Interleaves(t *testing.T) {
	a := &UserType{Name: "A", Weight: 2, Tasks: []Task{{Name: "t", Fn: noop}}}
	b := &UserType{Name: "B", Weight: 2, Tasks: []Task{{Name: "t", Fn: noop}}}

	picker, err := NewPicker([]*UserType{a, b})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, picker.Next().Name)
	}
	assert.Equal(t, []string{"A", "B", "A", "B"}, got)
}

func TestPicker_Errors(t *testing.T) {
	_, err := NewPicker(nil)
	assert.True(t, errors.Is(err, ErrNoUserTypes))

	dup := &UserType{Name: "A", Weight: 1, Tasks: []Task{{Name: "t", Fn: noop}}}
	_, err = NewPicker([]*UserType{dup, dup})
	assert.True(t, errors.Is(err, ErrInvalidUserType))

	_, err = NewPicker([]*UserType{{Name: "bad"}})
	assert.True(t, errors.Is(err, ErrInvalidUserType))
}

func TestPicker_UserTypes(t *testing.T) {
	a := &UserType{Name: "A", Weight: 1, Tasks: []Task{{Name: "t", Fn: noop}}}
	b := &UserType{Name: "B", Weight: 3, Tasks: []Task{{Name: "t", Fn: noop}}}

	picker, err := NewPicker([]*UserType{a, b})
	require.NoError(t, err)
	assert.Equal(t, []*UserType{a, b}, picker.UserTypes())
}
