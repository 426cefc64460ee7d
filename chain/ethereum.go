/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package chain performs the on-chain side of a faucet request: a native
// token transfer from a leased signer account to the beneficiary. The
// processor treats it as an opaque action bounded by its timeout.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/faucet/config"
	"github.com/blnkfinance/faucet/model"
)

// transferGasLimit is the fixed gas limit of a plain value transfer.
const transferGasLimit = 21000

// receiptPollInterval is how often Perform polls for the mined receipt.
const receiptPollInterval = time.Second

// Transfer submits native-token transfers for faucet requests on one
// network. Keys are indexed by their derived signer address, matching the
// pool's account addresses.
type Transfer struct {
	client  *ethclient.Client
	chainID *big.Int
	amount  *big.Int
	keys    map[string]*ecdsa.PrivateKey
}

// NewTransfer dials the network node and prepares a Transfer from its
// configuration. The faucet amount is given in whole tokens and converted
// to the 18-decimal base unit here.
func NewTransfer(network string, cnf config.NetworkConfig) (*Transfer, error) {
	client, err := ethclient.Dial(cnf.NodeUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing node for network %s", network)
	}

	amount, err := parseAmount(cnf.FaucetAmount)
	if err != nil {
		return nil, errors.Wrapf(err, "network %s", network)
	}

	keys := make(map[string]*ecdsa.PrivateKey, len(cnf.PrivateKeys))
	for _, keyHex := range cnf.PrivateKeys {
		key, address, err := ParseKey(keyHex)
		if err != nil {
			return nil, errors.Wrapf(err, "network %s", network)
		}
		keys[address] = key
	}

	return &Transfer{
		client:  client,
		chainID: big.NewInt(cnf.ChainID),
		amount:  amount,
		keys:    keys,
	}, nil
}

// Addresses returns the signer addresses derived from the configured keys,
// in no particular order. The accounts CLI provisions the pool from these.
func (t *Transfer) Addresses() []string {
	addresses := make([]string, 0, len(t.keys))
	for address := range t.keys {
		addresses = append(addresses, address)
	}
	return addresses
}

// Perform sends the faucet amount from the leased account to the request's
// beneficiary and waits for the transaction to be mined, or for ctx to run
// out. The nonce is read from pending state: the pool lease guarantees no
// other in-process transfer races this signer.
func (t *Transfer) Perform(ctx context.Context, account *model.Account, request *model.Request) error {
	key, ok := t.keys[account.Address]
	if !ok {
		return errors.Errorf("no signing key for account %s", account.Address)
	}
	if !common.IsHexAddress(request.Beneficiary) {
		return errors.Errorf("invalid beneficiary address %s", request.Beneficiary)
	}
	beneficiary := common.HexToAddress(request.Beneficiary)

	nonce, err := t.client.PendingNonceAt(ctx, common.HexToAddress(account.Address))
	if err != nil {
		return errors.Wrap(err, "reading pending nonce")
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return errors.Wrap(err, "suggesting gas price")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &beneficiary,
		Value:    t.amount,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), key)
	if err != nil {
		return errors.Wrap(err, "signing transaction")
	}

	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return errors.Wrapf(err, "sending transaction %s", signed.Hash().Hex())
	}
	logrus.Infof("submitted transfer %s: %s -> %s", signed.Hash().Hex(), account.Address, request.Beneficiary)

	return t.waitMined(ctx, signed.Hash())
}

// waitMined polls for the receipt until the transaction lands or ctx
// expires. A reverted transaction is an action failure, not a timeout.
func (t *Transfer) waitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return errors.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ParseKey decodes a hex private key (with or without 0x prefix) and
// returns it with its derived signer address.
func ParseKey(keyHex string) (*ecdsa.PrivateKey, string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid private key")
	}
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// parseAmount converts a whole-token decimal amount to the 18-decimal base
// unit.
func parseAmount(amount string) (*big.Int, error) {
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid faucet amount %q", amount)
	}
	if parsed.Sign() <= 0 {
		return nil, errors.Errorf("faucet amount must be positive, got %s", amount)
	}
	return parsed.Shift(18).BigInt(), nil
}
