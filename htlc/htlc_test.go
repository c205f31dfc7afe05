package htlc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/htlcswap/ledger"
)

func bitcoinParams(t *testing.T) Params {
	hash, err := ParseSecretHash("68d627971643a6f97f27c58957826fcba853ec2077fd10ec6b93d8e61deb4cec")
	require.NoError(t, err)

	return Params{
		Ledger:          ledger.Bitcoin{Network: ledger.Regtest},
		Asset:           ledger.BitcoinQuantity(100_000_000),
		SecretHash:      hash,
		RefundIdentity:  Identity{0x01, 0x02},
		SuccessIdentity: Identity{0x03, 0x04},
		Lock:            144,
	}
}

func etherParams(t *testing.T) Params {
	p := bitcoinParams(t)
	p.Ledger = ledger.Ethereum{ChainID: 17}
	p.Asset = ledger.NewEtherQuantity(big.NewInt(1_000_000_000_000_000_000))
	p.Lock = 3600
	return p
}

func erc20Params(t *testing.T) Params {
	p := etherParams(t)
	p.Asset = ledger.Erc20Quantity{
		Token:    common.HexToAddress("0xb97048628db6b661d4c2aa833e95dbe1a905b280"),
		Amount:   big.NewInt(5000),
		Decimals: 18,
	}
	return p
}

func TestSecret_HashMatches(t *testing.T) {
	s, err := NewSecret()
	require.NoError(t, err)

	h := s.Hash()
	require.True(t, h.Matches(s))
	require.False(t, h.IsZero())

	other, err := NewSecret()
	require.NoError(t, err)
	require.False(t, h.Matches(other))
}

func TestSecret_FromBytesRejectsWrongLength(t *testing.T) {
	_, err := SecretFromBytes(make([]byte, 31))
	require.ErrorIs(t, err, ErrMalformedParams)

	s, err := SecretFromBytes(bytes.Repeat([]byte{7}, SecretLength))
	require.NoError(t, err)
	require.Equal(t, byte(7), s[0])
}

func TestParseSecretHash(t *testing.T) {
	h, err := ParseSecretHash("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("ab", 32), h.String())

	_, err = ParseSecretHash("abcd")
	require.ErrorIs(t, err, ErrMalformedParams)

	_, err = ParseSecretHash("zz")
	require.ErrorIs(t, err, ErrMalformedParams)
}

func TestParams_Variant(t *testing.T) {
	v, err := bitcoinParams(t).Variant()
	require.NoError(t, err)
	require.Equal(t, VariantBitcoin, v)

	v, err = etherParams(t).Variant()
	require.NoError(t, err)
	require.Equal(t, VariantEther, v)

	v, err = erc20Params(t).Variant()
	require.NoError(t, err)
	require.Equal(t, VariantErc20, v)

	p := bitcoinParams(t)
	p.Asset = ledger.NewEtherQuantity(big.NewInt(1))
	_, err = p.Variant()
	require.ErrorIs(t, err, ErrMalformedParams)
}

func TestParams_ValidateRejectsMalformed(t *testing.T) {
	cases := map[string]func(*Params){
		"zero hash":       func(p *Params) { p.SecretHash = SecretHash{} },
		"zero refund":     func(p *Params) { p.RefundIdentity = Identity{} },
		"zero success":    func(p *Params) { p.SuccessIdentity = Identity{} },
		"zero lock":       func(p *Params) { p.Lock = 0 },
		"lock too long":   func(p *Params) { p.Lock = maxRelativeBlocks + 1 },
		"unknown network": func(p *Params) { p.Ledger = ledger.Bitcoin{Network: "signet"} },
		"zero amount":     func(p *Params) { p.Asset = ledger.BitcoinQuantity(0) },
		"missing asset":   func(p *Params) { p.Asset = nil },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := bitcoinParams(t)
			mutate(&p)

			_, err := p.Bytecode()
			require.ErrorIs(t, err, ErrMalformedParams)
		})
	}

	p := etherParams(t)
	p.Lock = 0
	require.ErrorIs(t, p.Validate(), ErrMalformedParams)

	p = erc20Params(t)
	p.Asset = ledger.Erc20Quantity{Amount: big.NewInt(1)}
	require.ErrorIs(t, p.Validate(), ErrMalformedParams)
}

func TestBitcoinScript_Layout(t *testing.T) {
	p := bitcoinParams(t)

	script, err := p.Bytecode()
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(script)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(disasm, "OP_IF OP_SIZE 20 OP_EQUALVERIFY OP_SHA256 "+p.SecretHash.String()))
	require.Contains(t, disasm, "OP_HASH160 "+p.SuccessIdentity.String()+" OP_ELSE")
	require.Contains(t, disasm, "OP_CHECKSEQUENCEVERIFY OP_DROP OP_DUP OP_HASH160 "+p.RefundIdentity.String())
	require.True(t, strings.HasSuffix(disasm, "OP_ENDIF OP_EQUALVERIFY OP_CHECKSIG"))
}

func TestBitcoinAddress_IsDeterministicP2WSH(t *testing.T) {
	p := bitcoinParams(t)

	a1, err := p.BitcoinAddress()
	require.NoError(t, err)
	a2, err := p.BitcoinAddress()
	require.NoError(t, err)

	require.Equal(t, a1.EncodeAddress(), a2.EncodeAddress())
	require.True(t, strings.HasPrefix(a1.EncodeAddress(), "bcrt1q"))

	p.Lock = 145
	a3, err := p.BitcoinAddress()
	require.NoError(t, err)
	require.NotEqual(t, a1.EncodeAddress(), a3.EncodeAddress())

	_, err = etherParams(t).BitcoinAddress()
	require.ErrorIs(t, err, ErrMalformedParams)
}

func TestEtherBytecode_Deterministic(t *testing.T) {
	p := etherParams(t)

	c1, err := p.Bytecode()
	require.NoError(t, err)
	c2, err := p.Bytecode()
	require.NoError(t, err)
	require.Equal(t, c1, c2)

	require.True(t, bytes.Contains(c1, p.SecretHash[:]))
	require.True(t, bytes.Contains(c1, p.SuccessIdentity[:]))
	require.True(t, bytes.Contains(c1, p.RefundIdentity[:]))

	var lock [8]byte
	binary.BigEndian.PutUint64(lock[:], uint64(p.Lock))
	require.True(t, bytes.Contains(c1, lock[:]))

	p.Lock++
	c3, err := p.Bytecode()
	require.NoError(t, err)
	require.NotEqual(t, c1, c3)
}

func TestEtherBytecode_DeployHeader(t *testing.T) {
	code, err := etherParams(t).Bytecode()
	require.NoError(t, err)
	require.Greater(t, len(code), deployHeaderLength)

	// PUSH8 lock TIMESTAMP ADD PUSH1 0 SSTORE
	require.Equal(t, byte(vm.PUSH8), code[0])
	require.Equal(t, uint64(3600), binary.BigEndian.Uint64(code[1:9]))
	require.Equal(t, byte(vm.SSTORE), code[13])

	require.Equal(t, byte(vm.PUSH2), code[14])
	runtimeLen := binary.BigEndian.Uint16(code[15:17])
	require.Equal(t, len(code)-deployHeaderLength, int(runtimeLen))
	require.Equal(t, byte(vm.RETURN), code[deployHeaderLength-1])

	runtime := code[deployHeaderLength:]
	require.Equal(t, byte(vm.CALLDATASIZE), runtime[0])
}

func TestErc20Bytecode_ContainsTransfer(t *testing.T) {
	p := erc20Params(t)

	code, err := p.Bytecode()
	require.NoError(t, err)

	token := p.Asset.(ledger.Erc20Quantity)
	require.True(t, bytes.Contains(code, token.Token.Bytes()))
	require.True(t, bytes.Contains(code, erc20.Methods["transfer"].ID))

	ether, err := etherParams(t).Bytecode()
	require.NoError(t, err)
	require.NotEqual(t, ether, code)
}

func TestFundingPayload(t *testing.T) {
	p := erc20Params(t)
	location := common.HexToAddress("0x0000000000000000000000000000000000000abc")

	data, err := p.FundingPayload(location)
	require.NoError(t, err)
	require.Len(t, data, 4+32+32)
	require.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))
	require.Equal(t, location.Bytes(), data[4+12:4+32])
	require.Equal(t, int64(5000), new(big.Int).SetBytes(data[36:]).Int64())

	_, err = etherParams(t).FundingPayload(location)
	require.ErrorIs(t, err, ErrMalformedParams)
}

func TestProgram_UndefinedLabel(t *testing.T) {
	_, err := newProgram().jumpIf("nowhere").assemble()
	require.Error(t, err)
}

func TestParams_Deadline(t *testing.T) {
	funded := time.Unix(1_700_000_000, 0)

	btc := bitcoinParams(t)
	require.Equal(t, funded.Add(144*10*time.Minute), btc.Deadline(funded, 10*time.Minute))

	eth := etherParams(t)
	require.Equal(t, funded.Add(time.Hour), eth.Deadline(funded, 10*time.Minute))
	require.Equal(t, time.Hour, LockTime(ledger.KindEthereum, 3600, time.Minute))
}

func TestParams_RejectsAmountsBeyondWord(t *testing.T) {
	word := new(big.Int).Lsh(big.NewInt(1), 256)

	p := erc20Params(t)
	token := p.Asset.(ledger.Erc20Quantity)
	token.Amount = word
	p.Asset = token
	require.ErrorIs(t, p.Validate(), ErrMalformedParams)
	_, err := p.Bytecode()
	require.ErrorIs(t, err, ErrMalformedParams)

	token.Amount = new(big.Int).Sub(word, big.NewInt(1))
	p.Asset = token
	code, err := p.Bytecode()
	require.NoError(t, err)
	require.True(t, bytes.Contains(code, bytes.Repeat([]byte{0xff}, 32)))

	p = etherParams(t)
	p.Asset = ledger.NewEtherQuantity(word)
	require.ErrorIs(t, p.Validate(), ErrMalformedParams)

	p = bitcoinParams(t)
	p.Asset = ledger.MaxSatoshi + 1
	require.ErrorIs(t, p.Validate(), ErrMalformedParams)
	p.Asset = ledger.MaxSatoshi
	require.NoError(t, p.Validate())
}
