package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := []string{"chat_messages", "_private", "Col1", "team_id"}
	for _, name := range valid {
		assert.NoError(t, Validate(name), name)
	}

	invalid := []string{
		"",
		"1col",
		"chat_messages; DROP TABLE users;--",
		"foo bar",
		"foo-bar",
		"foo.bar",
		"café",
		"foo\"bar",
		"/* comment */",
	}
	for _, name := range invalid {
		assert.ErrorIs(t, Validate(name), ErrInvalid, name)
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"chat_messages"`, Quote("chat_messages"))
	assert.Equal(t, `"foo""bar"`, Quote(`foo"bar`))
}

func TestValidateAndQuote(t *testing.T) {
	q, err := ValidateAndQuote("team_id")
	require.NoError(t, err)
	assert.Equal(t, `"team_id"`, q)

	_, err = ValidateAndQuote("bad; name")
	require.ErrorIs(t, err, ErrInvalid)
}
