package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusApproved, StatusDeclined, StatusError} {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	_, err := ParseStatus("APPROVED")
	require.Error(t, err)
	_, err = ParseStatus("")
	require.Error(t, err)
}
