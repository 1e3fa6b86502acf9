package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentRoundTrip(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		[]byte(`{"exp":1700000000}`),
		{0x00, 0xff, 0xfb, 0xef, 0x3e, 0x3f},
	}
	for _, input := range cases {
		encoded := EncodeSegment(input)
		require.NotContains(t, encoded, "=")
		require.NotContains(t, encoded, "+")
		require.NotContains(t, encoded, "/")

		decoded, err := DecodeSegment(encoded, "payload")
		require.NoError(t, err)
		require.Equal(t, input, decoded)
	}
}

func TestDecodeSegmentToleratesStandardAlphabetAndPadding(t *testing.T) {
	t.Parallel()

	// 0xfb 0xef 0xbe encodes to "+++-" territory in the standard alphabet.
	decoded, err := DecodeSegment("++/+", "payload")
	require.NoError(t, err)
	require.Equal(t, []byte{0xfb, 0xef, 0xfe}, decoded)

	withPadding, err := DecodeSegment("YQ==", "payload")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), withPadding)
}

func TestDecodeSegmentMalformed(t *testing.T) {
	t.Parallel()

	_, err := DecodeSegment("not%valid", "header")
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, "header", decodeErr.Segment)
}
