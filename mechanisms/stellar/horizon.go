package stellar

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/base"
	"github.com/stellar/go/protocols/horizon/operations"
	"go.uber.org/zap"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

// HorizonClient is the subset of horizonclient.ClientInterface the ledger uses.
// *horizonclient.Client and *horizonclient.MockClient both satisfy it.
type HorizonClient interface {
	SubmitTransactionXDR(transactionXdr string) (hProtocol.Transaction, error)
	TransactionDetail(txHash string) (hProtocol.Transaction, error)
	Operations(request horizonclient.OperationRequest) (operations.OperationsPage, error)
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
}

// HorizonLedger implements ledgerpay.Ledger over a Horizon server.
type HorizonLedger struct {
	client     HorizonClient
	passphrase string
	logger     *zap.Logger
}

// NewHorizonLedger creates a ledger; passphrase is used to recompute envelope hashes
func NewHorizonLedger(client HorizonClient, passphrase string, logger *zap.Logger) *HorizonLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HorizonLedger{client: client, passphrase: passphrase, logger: logger}
}

// NewHorizonLedgerFromConfig resolves the network and Horizon endpoint from config
func NewHorizonLedgerFromConfig(cfg ledgerpay.Config, httpClient *http.Client, logger *zap.Logger) (*HorizonLedger, error) {
	network, err := ConfigFor(cfg.Network)
	if err != nil {
		return nil, err
	}
	url := network.HorizonURL
	if cfg.HorizonURL != "" {
		url = cfg.HorizonURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client := &horizonclient.Client{HorizonURL: url, HTTP: httpClient}
	return NewHorizonLedger(client, network.Passphrase, logger), nil
}

// Submit posts the envelope once.
//
// A Horizon 504 means the transaction may still be applied, so it is reported
// as accepted with the locally computed hash; the caller then verifies instead
// of resubmitting.
func (l *HorizonLedger) Submit(ctx context.Context, envelope ledgerpay.SignedEnvelope) (ledgerpay.SettlementReference, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable(err)
	}

	tx, err := l.client.SubmitTransactionXDR(envelope.XDR)
	if err == nil {
		return ledgerpay.SettlementReference(tx.Hash), nil
	}

	herr := horizonclient.GetError(err)
	if herr == nil {
		return "", unavailable(err)
	}

	switch status := herr.Problem.Status; {
	case status == http.StatusGatewayTimeout:
		hash := envelope.Hash
		if hash == "" {
			if hash, err = EnvelopeHash(envelope.XDR, l.passphrase); err != nil {
				return "", unavailable(err)
			}
		}
		l.logger.Warn("horizon timed out waiting for ledger close, treating submission as pending",
			zap.String("reference", hash))
		return ledgerpay.SettlementReference(hash), nil
	case status == http.StatusTooManyRequests:
		return "", wrapCode(ledgerpay.ErrCodeRateLimited, err)
	case status >= http.StatusInternalServerError:
		return "", unavailable(err)
	}

	reason := herr.Problem.Title
	details := map[string]interface{}{"status": herr.Problem.Status}
	if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
		if codes.TransactionCode != "" {
			reason = codes.TransactionCode
		}
		details["resultCode"] = codes.TransactionCode
		if len(codes.OperationCodes) > 0 {
			details["operationCodes"] = codes.OperationCodes
		}
	}
	return "", ledgerpay.NewSubmissionRejectedError(reason, details)
}

// QueryByReference reads the transaction and, if it succeeded, its operations
func (l *HorizonLedger) QueryByReference(ctx context.Context, reference ledgerpay.SettlementReference) (*ledgerpay.SettlementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	tx, err := l.client.TransactionDetail(reference.String())
	if err != nil {
		return nil, mapQueryError(err)
	}

	record := &ledgerpay.SettlementRecord{
		Reference:  reference,
		Successful: tx.Successful,
	}
	if !tx.Successful {
		return record, nil
	}

	page, err := l.client.Operations(horizonclient.OperationRequest{
		ForTransaction: reference.String(),
		Limit:          operationsPageLimit,
	})
	if err != nil {
		return nil, mapQueryError(err)
	}
	for _, op := range page.Embedded.Records {
		record.Operations = append(record.Operations, convertOperation(op))
	}
	return record, nil
}

// QueryByAccount reads the account's sequence number and balances
func (l *HorizonLedger) QueryByAccount(ctx context.Context, account string) (*ledgerpay.AccountState, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	detail, err := l.client.AccountDetail(horizonclient.AccountRequest{AccountID: account})
	if err != nil {
		return nil, mapQueryError(err)
	}

	sequence, err := detail.GetSequenceNumber()
	if err != nil {
		return nil, fmt.Errorf("invalid sequence for %s: %w", account, err)
	}

	state := &ledgerpay.AccountState{Account: account, Sequence: sequence}
	for _, b := range detail.Balances {
		asset, ok := convertAsset(b.Asset)
		if !ok {
			continue
		}
		state.Balances = append(state.Balances, ledgerpay.BalanceSnapshot{
			Account: account,
			Asset:   asset,
			Amount:  b.Balance,
		})
	}
	return state, nil
}

func convertOperation(op operations.Operation) ledgerpay.LedgerOperation {
	var payment *operations.Payment
	switch o := op.(type) {
	case operations.Payment:
		payment = &o
	case operations.PathPayment:
		payment = &o.Payment
	case operations.PathPaymentStrictSend:
		payment = &o.Payment
	}
	if payment == nil {
		return ledgerpay.LedgerOperation{Kind: ledgerpay.OperationKindOther}
	}

	asset, ok := convertAsset(payment.Asset)
	if !ok {
		return ledgerpay.LedgerOperation{Kind: ledgerpay.OperationKindOther}
	}
	return ledgerpay.LedgerOperation{
		Kind:        ledgerpay.OperationKindTransfer,
		Asset:       asset,
		Source:      payment.From,
		Destination: payment.To,
		Amount:      payment.Amount,
	}
}

func convertAsset(a base.Asset) (ledgerpay.Asset, bool) {
	switch a.Type {
	case "native":
		return ledgerpay.NativeAsset(), true
	case "credit_alphanum4", "credit_alphanum12":
		return ledgerpay.Asset{Code: a.Code, Issuer: a.Issuer}, true
	}
	return ledgerpay.Asset{}, false
}

func mapQueryError(err error) error {
	herr := horizonclient.GetError(err)
	if herr == nil {
		return unavailable(err)
	}
	switch status := herr.Problem.Status; {
	case status == http.StatusNotFound:
		return wrapCode(ledgerpay.ErrCodeNotFound, err)
	case status == http.StatusTooManyRequests:
		return wrapCode(ledgerpay.ErrCodeRateLimited, err)
	case status >= http.StatusInternalServerError:
		return unavailable(err)
	}
	return fmt.Errorf("horizon query failed (%d %s): %w", herr.Problem.Status, herr.Problem.Title, err)
}

func unavailable(err error) error {
	return wrapCode(ledgerpay.ErrCodeServiceUnavailable, err)
}

func wrapCode(code string, err error) error {
	return &ledgerpay.PaymentError{Code: code, Message: err.Error(), Err: err}
}
