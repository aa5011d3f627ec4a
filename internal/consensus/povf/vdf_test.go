package povf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSquaringVDFRoundTrip(t *testing.T) {
	vdf := NewSquaringVDF()
	input := []byte("povf round 7 delay input")

	proof, err := vdf.Evaluate(input, 500)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(proof.Output), 32)
	require.True(t, vdf.Verify(proof))
}

func TestSquaringVDFDeterministic(t *testing.T) {
	vdf := NewSquaringVDF()
	input := []byte("same input")

	a, err := vdf.Evaluate(input, 250)
	require.NoError(t, err)
	b, err := vdf.Evaluate(input, 250)
	require.NoError(t, err)
	require.Equal(t, a.Output, b.Output)
	require.Equal(t, a.Proof, b.Proof)
}

func TestSquaringVDFTamperedOutputFails(t *testing.T) {
	vdf := NewSquaringVDF()
	proof, err := vdf.Evaluate([]byte("input"), 100)
	require.NoError(t, err)

	proof.Output[0] ^= 0x01
	require.False(t, vdf.Verify(proof))
}

func TestSquaringVDFTamperedProofFails(t *testing.T) {
	vdf := NewSquaringVDF()
	proof, err := vdf.Evaluate([]byte("input"), 100)
	require.NoError(t, err)

	proof.Proof[len(proof.Proof)-1] ^= 0x01
	require.False(t, vdf.Verify(proof))
}

func TestSquaringVDFWrongIterationsFails(t *testing.T) {
	vdf := NewSquaringVDF()
	proof, err := vdf.Evaluate([]byte("input"), 100)
	require.NoError(t, err)

	proof.Iterations = 101
	require.False(t, vdf.Verify(proof))
}

func TestSquaringVDFRejectsBadArguments(t *testing.T) {
	vdf := NewSquaringVDF()

	_, err := vdf.Evaluate(nil, 10)
	require.Error(t, err)

	_, err = vdf.Evaluate([]byte("x"), 0)
	require.Error(t, err)

	_, err = vdf.Evaluate([]byte("x"), MaxVDFIterations+1)
	require.Error(t, err)
}
