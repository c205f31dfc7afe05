package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const secretHash = "f6fc84c9f21c24907d6bee6eec38cabab5fa9a7be8c4a7827fe9e56f245bd2d5"

func run(t *testing.T, args ...string) (string, error) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"swapd"}, args...))
	return out.String(), err
}

func TestHTLC_Bitcoin(t *testing.T) {
	out, err := run(t, "htlc",
		"--ledger", "bitcoin",
		"--quantity", "100000000",
		"--refund", "875638cac0b0ae9f826575e190f2788918c354c2",
		"--success", "30bfdb95f68bfdd558a8dc6deef0da882b0c4866",
		"--secret-hash", secretHash,
		"--lock", "144")
	require.NoError(t, err)
	require.Contains(t, out, "variant:  bitcoin")
	require.Contains(t, out, "address:  bcrt1")
	require.Contains(t, out, `"to_address":"bcrt1`)
}

func TestHTLC_Erc20(t *testing.T) {
	out, err := run(t, "htlc",
		"--ledger", "ethereum",
		"--quantity", "42",
		"--token", "0x70ce000000000000000000000000000000000003",
		"--refund", "0x8457037fcd80a8650c4692d7fcfc1d0a96b92867",
		"--success", "0x0ae91a668e3ad094e765ec66f5d5c72e0b82f04d",
		"--secret-hash", secretHash,
		"--lock", "86400")
	require.NoError(t, err)
	require.Contains(t, out, "variant:  erc20")
	require.NotContains(t, out, "address:")
	require.Contains(t, out, `"is_contract_creation":true`)
}

func TestHTLC_Invalid(t *testing.T) {
	_, err := run(t, "htlc",
		"--ledger", "bitcoin",
		"--quantity", "0",
		"--refund", "875638cac0b0ae9f826575e190f2788918c354c2",
		"--success", "30bfdb95f68bfdd558a8dc6deef0da882b0c4866",
		"--secret-hash", secretHash,
		"--lock", "144")
	require.Error(t, err)

	_, err = run(t, "htlc", "--ledger", "dogecoin")
	require.Error(t, err)
}

func TestPolicy_Print(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("ACCEPT bitcoin -> ethereum IF rate > 0.05\n"), 0o600))

	out, err := run(t, "policy", path)
	require.NoError(t, err)
	require.Contains(t, out, "accepts Bitcoin -> Ethereum")

	_, err = run(t, "policy")
	require.Error(t, err)
}

func TestSecret(t *testing.T) {
	out, err := run(t, "secret")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
}

func TestHTLC_TokenAmountBeyondWord(t *testing.T) {
	_, err := run(t, "htlc",
		"--ledger", "ethereum",
		"--quantity", "115792089237316195423570985008687907853269984665640564039457584007913129639936",
		"--token", "0x70ce000000000000000000000000000000000003",
		"--refund", "0x8457037fcd80a8650c4692d7fcfc1d0a96b92867",
		"--success", "0x0ae91a668e3ad094e765ec66f5d5c72e0b82f04d",
		"--secret-hash", secretHash,
		"--lock", "86400")
	require.Error(t, err)
}
