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

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/faucet"
	"github.com/blnkfinance/faucet/chain"
)

// provisionAccounts registers a pool account for every signing key the
// network is configured with. Re-running is safe: existing accounts keep
// their current lock state.
func provisionAccounts(b *faucetInstance, network string) error {
	networkCnf, ok := b.cnf.Networks[network]
	if !ok {
		return fmt.Errorf("unknown network: %s", network)
	}

	for _, keyHex := range networkCnf.PrivateKeys {
		_, address, err := chain.ParseKey(keyHex)
		if err != nil {
			return err
		}

		created, err := b.faucet.ProvisionAccount(context.Background(), network, address)
		if err != nil {
			return err
		}
		if created {
			log.Printf("provisioned account %s on %s", address, network)
		} else {
			log.Printf("account %s already exists on %s", address, network)
		}
	}
	return nil
}

func listAccounts(b *faucetInstance, network string) error {
	pool := faucet.NewAccountPool(b.faucet.Store(), network, faucet.PoolOptions{})
	accounts, err := pool.Accounts(context.Background())
	if err != nil {
		return err
	}

	for _, account := range accounts {
		if account.IsFree() {
			fmt.Printf("%s\t%s\n", account.Address, account.State)
			continue
		}
		fmt.Printf("%s\t%s\tholder=%s\tage=%s\n", account.Address, account.State, account.LockHolder, account.LockAge())
	}
	return nil
}

// accountCommands manages the signer-account pool from the CLI.
func accountCommands(b *faucetInstance) *cobra.Command {
	var network string

	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "manage the signer-account pool",
	}
	accountsCmd.PersistentFlags().StringVar(&network, "network", "", "network namespace to operate on")

	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "register pool accounts from the configured signing keys",
		Run: func(cmd *cobra.Command, args []string) {
			if err := provisionAccounts(b, network); err != nil {
				log.Fatal(err)
			}
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "print the pool accounts and their lock state",
		Run: func(cmd *cobra.Command, args []string) {
			if err := listAccounts(b, network); err != nil {
				log.Fatal(err)
			}
		},
	}

	accountsCmd.AddCommand(provisionCmd)
	accountsCmd.AddCommand(listCmd)

	return accountsCmd
}
