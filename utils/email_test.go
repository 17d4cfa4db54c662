package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jamie@example.com", NormalizeEmail("  Jamie@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestValidateEmailAddress(t *testing.T) {
	cases := []struct {
		email string
		want  error
	}{
		{"jamie@example.com", nil},
		{"jamie+tag@sub.example.co", nil},
		{"", ErrEmailRequired},
		{"not-an-email", ErrInvalidEmail},
		{"@example.com", ErrInvalidEmail},
		{"jamie@localhost", ErrInvalidEmail},
		{"jamie@mailinator.com", ErrDisposableEmail},
		{"jamie@yopmail.fr", ErrDisposableEmail},
	}
	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			err := ValidateEmailAddress(tc.email)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestIsDisposableEmail(t *testing.T) {
	assert.True(t, IsDisposableEmail("x@10minutemail.com"))
	assert.True(t, IsDisposableEmail("x@MAILINATOR.com"))
	assert.False(t, IsDisposableEmail("x@example.com"))
	assert.False(t, IsDisposableEmail("no-at-sign"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "weekly-digest", Slugify("Weekly Digest"))
	assert.Equal(t, "a-b-c", Slugify("  A  b!! C "))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestTitleFromSlug(t *testing.T) {
	assert.Equal(t, "Weekly Digest", TitleFromSlug("weekly-digest"))
	assert.Equal(t, "Untitled Publishers", TitleFromSlug("untitled-publishers"))
}
