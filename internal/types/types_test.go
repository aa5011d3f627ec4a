package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// TestBloomScenario is §8 S6: a log's address and topic are both reported
// present by the receipt bloom, and the bloom is not all-zero.
func TestBloomScenario(t *testing.T) {
	var addr Address
	for i := range addr {
		addr[i] = 0x01
	}
	var topic Hash
	for i := range topic {
		topic[i] = 0x0A
	}

	b := NewBloomForLogs([]*Log{{Address: addr, Topics: []Hash{topic}}})
	require.True(t, b.MightContain(addr[:]))
	require.True(t, b.MightContain(topic[:]))
	require.False(t, b.IsZero())
}

func TestBloomNeverFalseNegates(t *testing.T) {
	var b Bloom
	values := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), make([]byte, 32)}
	for _, v := range values {
		b.Add(v)
	}
	for _, v := range values {
		require.True(t, b.MightContain(v))
	}
}

func TestTransactionHashIsStable(t *testing.T) {
	to := Address{0x02}
	tx := &Transaction{Sender: Address{0x01}, To: &to, Value: big.NewInt(5), Gas: 21000, Nonce: 3}
	h1 := tx.Hash()

	same := &Transaction{Sender: Address{0x01}, To: &to, Value: big.NewInt(5), Gas: 21000, Nonce: 3}
	require.Equal(t, h1, same.Hash())

	diff := &Transaction{Sender: Address{0x01}, To: &to, Value: big.NewInt(5), Gas: 21000, Nonce: 4}
	require.NotEqual(t, h1, diff.Hash())
}

func TestTransactionSignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := Address(crypto.PubkeyToAddress(key.PublicKey))
	to := Address{0x09}

	tx := &Transaction{Sender: sender, To: &to, Value: big.NewInt(1), Gas: 21000}
	require.False(t, tx.VerifySignature())

	require.NoError(t, tx.Sign(key))
	require.True(t, tx.VerifySignature())

	// A signature from a different key does not verify for this sender.
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, tx.Sign(otherKey))
	require.False(t, tx.VerifySignature())
}

func TestEffectiveGasPricePrecedence(t *testing.T) {
	tx := &Transaction{MaxFeePerGas: big.NewInt(7), GasPrice: big.NewInt(3)}
	require.Equal(t, big.NewInt(7), tx.EffectiveGasPrice())

	tx = &Transaction{GasPrice: big.NewInt(3)}
	require.Equal(t, big.NewInt(3), tx.EffectiveGasPrice())

	tx = &Transaction{}
	require.Equal(t, 0, tx.EffectiveGasPrice().Sign())
}

func TestComputeMerkleRootOrderSensitive(t *testing.T) {
	to := Address{0x02}
	tx1 := &Transaction{Sender: Address{0x01}, To: &to, Nonce: 0}
	tx2 := &Transaction{Sender: Address{0x01}, To: &to, Nonce: 1}

	r1 := ComputeMerkleRoot([]*Transaction{tx1, tx2})
	r2 := ComputeMerkleRoot([]*Transaction{tx2, tx1})
	require.NotEqual(t, r1, r2)
	require.Equal(t, Hash{}, ComputeMerkleRoot(nil))
}

func TestHexFormats(t *testing.T) {
	require.Equal(t, "0x0", HexUint64(0))
	require.Equal(t, "0x2a", HexUint64(42))
	require.Equal(t, "0x0", HexBig(nil))
	require.Equal(t, "0x1", HexBig(big.NewInt(1)))

	var a Address
	a[19] = 0xAB
	require.Equal(t, "0x00000000000000000000000000000000000000ab", HexAddress(a))
}

func TestParseBlockNumber(t *testing.T) {
	bn, err := ParseBlockNumber("latest")
	require.NoError(t, err)
	require.Equal(t, LatestBlockNumber, bn)

	bn, err = ParseBlockNumber("0x10")
	require.NoError(t, err)
	require.Equal(t, BlockNumber(16), bn)

	_, err = ParseBlockNumber("16")
	require.Error(t, err)
}
