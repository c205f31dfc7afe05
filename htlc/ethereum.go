package htlc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"go.dedis.ch/htlcswap/ledger"
)

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

var erc20 = mustParseABI(erc20TransferABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse abi: %v", err))
	}
	return parsed
}

// sha256Precompile is the address of the sha256 precompiled contract.
const sha256Precompile = 0x02

// etherBytecode locks the deployment value. Calling it with the 32 byte
// secret pays the success identity, calling it without data once the lock
// elapsed pays the refund identity.
func etherBytecode(p Params) ([]byte, error) {
	prog := htlcRuntime(p,
		func(prog *program) { prog.push(p.SuccessIdentity[:]).op(vm.SELFDESTRUCT) },
		func(prog *program) { prog.push(p.RefundIdentity[:]).op(vm.SELFDESTRUCT) },
	)
	return assembleContract(p.Lock, prog)
}

// erc20Bytecode holds tokens transferred to the contract after deployment
// and pays them out with the token's transfer method.
func erc20Bytecode(p Params) ([]byte, error) {
	token := p.Asset.(ledger.Erc20Quantity)
	prog := htlcRuntime(p,
		func(prog *program) { tokenTransfer(prog, token, p.SuccessIdentity.Address()) },
		func(prog *program) { tokenTransfer(prog, token, p.RefundIdentity.Address()) },
	)
	return assembleContract(p.Lock, prog)
}

func assembleContract(lock LockDuration, prog *program) ([]byte, error) {
	runtime, err := prog.assemble()
	if err != nil {
		return nil, fmt.Errorf("failed to assemble htlc: %w", err)
	}
	return withDeployHeader(uint64(lock), runtime)
}

// htlcRuntime dispatches on call data length: 32 bytes is a redeem attempt,
// empty is a refund attempt, anything else reverts.
func htlcRuntime(p Params, success, refund func(*program)) *program {
	prog := newProgram()

	prog.op(vm.CALLDATASIZE).pushByte(SecretLength).op(vm.EQ).jumpIf("redeem")
	prog.op(vm.CALLDATASIZE, vm.ISZERO).jumpIf("refund")
	prog.label("fail").pushByte(0).op(vm.DUP1, vm.REVERT)

	// sha256(calldata) lands at memory[32:64]
	prog.label("redeem").
		pushByte(SecretLength).pushByte(0).pushByte(0).op(vm.CALLDATACOPY).
		pushByte(32).pushByte(32).pushByte(SecretLength).pushByte(0).pushByte(sha256Precompile).
		op(vm.GAS, vm.STATICCALL, vm.ISZERO).jumpIf("fail").
		pushByte(32).op(vm.MLOAD).push(p.SecretHash[:]).op(vm.EQ, vm.ISZERO).jumpIf("fail")
	success(prog)

	// the expiry was stored in slot 0 on deployment
	prog.label("refund").
		pushByte(0).op(vm.SLOAD, vm.TIMESTAMP, vm.LT).jumpIf("fail")
	refund(prog)

	return prog
}

// tokenTransfer emits transfer(to, amount) on the token and reverts if the
// call fails.
func tokenTransfer(prog *program, token ledger.Erc20Quantity, to common.Address) {
	selector := erc20.Methods["transfer"].ID

	prog.push(selector).pushByte(0xe0).op(vm.SHL).pushByte(0).op(vm.MSTORE).
		push(to.Bytes()).pushByte(4).op(vm.MSTORE).
		push(common.LeftPadBytes(token.Amount.Bytes(), 32)).pushByte(0x24).op(vm.MSTORE)

	prog.pushByte(32).pushByte(0).pushByte(0x44).pushByte(0).pushByte(0).
		push(token.Token.Bytes()).
		op(vm.GAS, vm.CALL, vm.ISZERO).jumpIf("fail").
		op(vm.STOP)
}

// FundingPayload is the call data of the ERC20 transfer moving the tokens
// into the HTLC deployed at location.
func (p Params) FundingPayload(location common.Address) ([]byte, error) {
	token, ok := p.Asset.(ledger.Erc20Quantity)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an erc20 asset", ErrMalformedParams, p.Asset.Name())
	}
	amount := token.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	data, err := erc20.Pack("transfer", location, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return data, nil
}

// RedeemPayload is the call data revealing the secret.
func RedeemPayload(s Secret) []byte {
	out := make([]byte, SecretLength)
	copy(out, s[:])
	return out
}
