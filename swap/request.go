package swap

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.dedis.ch/htlcswap/htlc"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/negotiation"
)

const (
	MethodSwap     = "SWAP"
	ProtocolRFC003 = "COMIT-RFC-003"

	defaultTokenDecimals = 18
	// ERC20 decimals are a uint8
	maxTokenDecimals = 255
)

var ErrMalformedRequest = errors.New("malformed swap request")

// Direction is the ordered pair of ledgers of a swap, from the initiator's
// point of view: the initiator gives on Source and receives on Target.
type Direction struct {
	Source ledger.Kind
	Target ledger.Kind
}

func (d Direction) String() string {
	return d.Source.String() + "->" + d.Target.String()
}

// Request is the initiator's proposal.
type Request struct {
	SourceLedger          ledger.Ledger
	TargetLedger          ledger.Ledger
	SourceAsset           ledger.Asset
	TargetAsset           ledger.Asset
	SourceRefundIdentity  htlc.Identity
	TargetSuccessIdentity htlc.Identity
	SourceLock            htlc.LockDuration
	SecretHash            htlc.SecretHash
}

func (r Request) Direction() Direction {
	return Direction{Source: r.SourceLedger.Kind(), Target: r.TargetLedger.Kind()}
}

// Validate checks the request is complete and consistent.
func (r Request) Validate() error {
	if r.SourceLedger == nil || r.TargetLedger == nil || r.SourceAsset == nil || r.TargetAsset == nil {
		return fmt.Errorf("%w: missing ledger or asset", ErrMalformedRequest)
	}
	if r.SourceAsset.Ledger() != r.SourceLedger.Kind() || r.TargetAsset.Ledger() != r.TargetLedger.Kind() {
		return fmt.Errorf("%w: asset on the wrong ledger", ErrMalformedRequest)
	}
	if r.SourceLedger.Kind() == r.TargetLedger.Kind() {
		return fmt.Errorf("%w: both sides on %s", ErrMalformedRequest, r.SourceLedger.Kind())
	}
	if r.SourceRefundIdentity.IsZero() || r.TargetSuccessIdentity.IsZero() {
		return fmt.Errorf("%w: empty identity", ErrMalformedRequest)
	}
	if r.SourceLock == 0 {
		return fmt.Errorf("%w: zero lock duration", ErrMalformedRequest)
	}
	if r.SecretHash.IsZero() {
		return fmt.Errorf("%w: empty secret hash", ErrMalformedRequest)
	}
	if r.SourceAsset.Quantity().Sign() <= 0 || r.TargetAsset.Quantity().Sign() <= 0 {
		return fmt.Errorf("%w: zero quantity", ErrMalformedRequest)
	}
	return nil
}

// Accept carries the responder's side of the terms.
type Accept struct {
	TargetRefundIdentity  htlc.Identity
	SourceSuccessIdentity htlc.Identity
	TargetLock            htlc.LockDuration
}

// SourceParams are the params of the HTLC the initiator funds.
func (r Request) SourceParams(a Accept) htlc.Params {
	return htlc.Params{
		Ledger:          r.SourceLedger,
		Asset:           r.SourceAsset,
		SecretHash:      r.SecretHash,
		RefundIdentity:  r.SourceRefundIdentity,
		SuccessIdentity: a.SourceSuccessIdentity,
		Lock:            r.SourceLock,
	}
}

// TargetParams are the params of the HTLC the responder funds.
func (r Request) TargetParams(a Accept) htlc.Params {
	return htlc.Params{
		Ledger:          r.TargetLedger,
		Asset:           r.TargetAsset,
		SecretHash:      r.SecretHash,
		RefundIdentity:  a.TargetRefundIdentity,
		SuccessIdentity: r.TargetSuccessIdentity,
		Lock:            a.TargetLock,
	}
}

// CheckParams validates both HTLCs the terms describe. Nothing is derived
// from terms that fail it.
func (r Request) CheckParams(a Accept) error {
	if err := r.SourceParams(a).Validate(); err != nil {
		return fmt.Errorf("%w: source htlc: %w", ErrMalformedRequest, err)
	}
	if err := r.TargetParams(a).Validate(); err != nil {
		return fmt.Errorf("%w: target htlc: %w", ErrMalformedRequest, err)
	}
	return nil
}

// Ledgers resolves the ledger names of the wire format to the configured
// networks.
type Ledgers struct {
	Bitcoin  ledger.Bitcoin
	Ethereum ledger.Ethereum
}

func (l Ledgers) resolve(name string) (ledger.Ledger, error) {
	kind, err := ledger.ParseKind(name)
	if err != nil {
		return nil, err
	}
	if kind == ledger.KindBitcoin {
		return l.Bitcoin, nil
	}
	return l.Ethereum, nil
}

type assetHeader struct {
	Value      string            `json:"value"`
	Parameters map[string]string `json:"parameters"`
}

func encodeAsset(a ledger.Asset) assetHeader {
	h := assetHeader{Value: a.Name(), Parameters: make(map[string]string)}
	switch q := a.(type) {
	case ledger.BitcoinQuantity:
		h.Parameters["quantity"] = fmt.Sprint(q.Satoshi())
	case ledger.EtherQuantity:
		h.Parameters["quantity"] = q.Wei.String()
	case ledger.Erc20Quantity:
		h.Parameters["quantity"] = q.Amount.String()
		h.Parameters["token_contract"] = q.Token.Hex()
		h.Parameters["decimals"] = fmt.Sprint(q.Decimals)
	}
	return h
}

func decodeAsset(h assetHeader) (ledger.Asset, error) {
	quantity, ok := h.Parameters["quantity"]
	if !ok {
		return nil, fmt.Errorf("%w: %s without quantity", ErrMalformedRequest, h.Value)
	}
	switch strings.ToLower(h.Value) {
	case "bitcoin":
		return ledger.ParseSatoshi(quantity)
	case "ether":
		return ledger.ParseWei(quantity)
	case "erc20":
		amount, ok := new(big.Int).SetString(quantity, 10)
		if !ok || amount.Sign() < 0 || amount.BitLen() > ledger.MaxWordBits {
			return nil, fmt.Errorf("%w: token amount %q", ledger.ErrInvalidQuantity, quantity)
		}
		token := h.Parameters["token_contract"]
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("%w: token contract %q", ErrMalformedRequest, token)
		}
		decimals := int32(defaultTokenDecimals)
		if d, ok := h.Parameters["decimals"]; ok {
			parsed, err := decimal.NewFromString(d)
			if err != nil || !parsed.IsInteger() || parsed.Sign() < 0 || parsed.GreaterThan(decimal.NewFromInt(maxTokenDecimals)) {
				return nil, fmt.Errorf("%w: decimals %q", ErrMalformedRequest, d)
			}
			decimals = int32(parsed.IntPart())
		}
		return ledger.Erc20Quantity{Token: common.HexToAddress(token), Amount: amount, Decimals: decimals}, nil
	default:
		return nil, fmt.Errorf("%w: unknown asset %q", ErrMalformedRequest, h.Value)
	}
}

// identities are bare hex on Bitcoin and 0x prefixed addresses on Ethereum
func formatIdentity(kind ledger.Kind, id htlc.Identity) string {
	if kind == ledger.KindEthereum {
		return id.Address().Hex()
	}
	return id.String()
}

type requestBody struct {
	SourceRefundIdentity  string            `json:"source_ledger_refund_identity"`
	TargetSuccessIdentity string            `json:"target_ledger_success_identity"`
	SourceLock            htlc.LockDuration `json:"source_ledger_lock_duration"`
	SecretHash            htlc.SecretHash   `json:"secret_hash"`
}

type acceptBody struct {
	TargetRefundIdentity  string            `json:"target_ledger_refund_identity"`
	SourceSuccessIdentity string            `json:"source_ledger_success_identity"`
	TargetLock            htlc.LockDuration `json:"target_ledger_lock_duration"`
}

// EncodeRequest builds the SWAP frame of r.
func EncodeRequest(r Request) (negotiation.Request, error) {
	if err := r.Validate(); err != nil {
		return negotiation.Request{}, err
	}
	req := negotiation.NewRequest(MethodSwap)
	headers := map[string]interface{}{
		"source_ledger": r.SourceLedger.Kind().String(),
		"target_ledger": r.TargetLedger.Kind().String(),
		"source_asset":  encodeAsset(r.SourceAsset),
		"target_asset":  encodeAsset(r.TargetAsset),
		"swap_protocol": ProtocolRFC003,
	}
	for name, v := range headers {
		if err := req.Headers.Set(name, v); err != nil {
			return negotiation.Request{}, err
		}
	}
	err := req.SetBody(requestBody{
		SourceRefundIdentity:  formatIdentity(r.SourceLedger.Kind(), r.SourceRefundIdentity),
		TargetSuccessIdentity: formatIdentity(r.TargetLedger.Kind(), r.TargetSuccessIdentity),
		SourceLock:            r.SourceLock,
		SecretHash:            r.SecretHash,
	})
	if err != nil {
		return negotiation.Request{}, err
	}
	return req, nil
}

// DecodeRequest reads a SWAP frame. Every failure wraps ErrMalformedRequest.
func DecodeRequest(req negotiation.Request, ledgers Ledgers) (Request, error) {
	if req.Method != MethodSwap {
		return Request{}, fmt.Errorf("%w: method %q", ErrMalformedRequest, req.Method)
	}

	var protocol string
	if err := req.Headers.Get("swap_protocol", &protocol); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if protocol != ProtocolRFC003 {
		return Request{}, fmt.Errorf("%w: protocol %q", ErrMalformedRequest, protocol)
	}

	var r Request
	var err error
	var sourceLedger, targetLedger string
	var sourceAsset, targetAsset assetHeader

	for name, v := range map[string]interface{}{
		"source_ledger": &sourceLedger,
		"target_ledger": &targetLedger,
		"source_asset":  &sourceAsset,
		"target_asset":  &targetAsset,
	} {
		if err := req.Headers.Get(name, v); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
	}
	if r.SourceLedger, err = ledgers.resolve(sourceLedger); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if r.TargetLedger, err = ledgers.resolve(targetLedger); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if r.SourceAsset, err = decodeAsset(sourceAsset); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if r.TargetAsset, err = decodeAsset(targetAsset); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	var body requestBody
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if r.SourceRefundIdentity, err = htlc.ParseIdentity(body.SourceRefundIdentity); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if r.TargetSuccessIdentity, err = htlc.ParseIdentity(body.TargetSuccessIdentity); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	r.SourceLock = body.SourceLock
	r.SecretHash = body.SecretHash

	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// EncodeAccept fills the body of an OK response.
func EncodeAccept(resp *negotiation.Response, r Request, a Accept) error {
	return resp.SetBody(acceptBody{
		TargetRefundIdentity:  formatIdentity(r.TargetLedger.Kind(), a.TargetRefundIdentity),
		SourceSuccessIdentity: formatIdentity(r.SourceLedger.Kind(), a.SourceSuccessIdentity),
		TargetLock:            a.TargetLock,
	})
}

// DecodeAccept reads the body of an OK response.
func DecodeAccept(resp negotiation.Response) (Accept, error) {
	var body acceptBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Accept{}, fmt.Errorf("%w: accept body: %v", ErrMalformedRequest, err)
	}
	var a Accept
	var err error
	if a.TargetRefundIdentity, err = htlc.ParseIdentity(body.TargetRefundIdentity); err != nil {
		return Accept{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if a.SourceSuccessIdentity, err = htlc.ParseIdentity(body.SourceSuccessIdentity); err != nil {
		return Accept{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if body.TargetLock == 0 {
		return Accept{}, fmt.Errorf("%w: zero target lock", ErrMalformedRequest)
	}
	a.TargetLock = body.TargetLock
	return a, nil
}
