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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/faucet"
	"github.com/blnkfinance/faucet/config"
	"github.com/blnkfinance/faucet/internal/notification"
)

// Cli wraps the root Cobra command.
type Cli struct {
	cmd *cobra.Command
}

// faucetInstance holds the runtime faucet service and its configuration,
// shared across subcommands.
type faucetInstance struct {
	faucet *faucet.Faucet
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the
// error before exiting.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the faucet service before
// running any command.
func preRun(app *faucetInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newFaucet, err := faucet.NewFaucet(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.faucet = newFaucet
		app.cnf = cnf

		return nil
	}
}

// NewCLI builds the command-line interface: the server, worker, and
// account-provisioning commands.
func NewCLI() *Cli {
	var configFile string
	b := &faucetInstance{}

	var rootCmd = &cobra.Command{
		Use:   "faucet",
		Short: "Testnet faucet with a leased signer-account pool",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./faucet.json", "Configuration file for the faucet")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(accountCommands(b))

	return &Cli{cmd: rootCmd}
}

func (w Cli) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
