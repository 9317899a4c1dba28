package main

// chaincmd.go holds the chain command group: the chain-only daemon plus the
// key, genesis, and devnet faucet tooling.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/modules/chain"
	"github.com/oib/AITBC-sub002/types"
)

var (
	genesisChainID string
	genesisAllocs  []string
	faucetKeyFile  string
)

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Chain node commands",
		Long:  "Run a chain node or manage its keys and genesis.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run a chain node",
		Long:  "Run a proof-of-authority chain node serving the RPC surface.",
		Run: func(*cobra.Command, []string) {
			serve(roles{chain: true})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keygen [filename]",
		Short: "Generate a signing key",
		Long:  "Generate an ed25519 key, write it to filename, and print its address.",
		Run:   keygencmd,
	})

	genesisCmd := &cobra.Command{
		Use:   "make-genesis [filename]",
		Short: "Write a genesis file",
		Long: "Write a genesis file with the given chain id and allocations.\n" +
			"Every node of a deployment must start from the identical file.",
		Run: makegenesiscmd,
	}
	genesisCmd.Flags().StringVar(&genesisChainID, "chain-id", "aitbc-devnet", "chain id tag")
	genesisCmd.Flags().StringArrayVar(&genesisAllocs, "alloc", nil, "pre-funded account, address=amount (repeatable)")
	cmd.AddCommand(genesisCmd)

	faucetCmd := &cobra.Command{
		Use:   "faucet [address] [amount]",
		Short: "Send devnet tokens to an address",
		Long: "Transfer tokens from a genesis-funded account to an address.\n" +
			"Devnet tooling; production tokens only enter circulation through receipts.",
		Run: faucetcmd,
	}
	faucetCmd.Flags().StringVar(&faucetKeyFile, "key", "", "key file of the funding account")
	cmd.AddCommand(faucetCmd)

	return cmd
}

func keygencmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.UsageFunc()(cmd)
		die(exitSemantic, "keygen needs a filename")
	}
	sk, pk := crypto.GenerateKeyPair()
	if err := crypto.SaveSecretKey(sk, args[0]); err != nil {
		die(exitSemantic, "Could not write the key file:", err)
	}
	fmt.Println("Wrote", args[0])
	fmt.Println("\taddress:", types.AddressFromKey(pk))
	fmt.Println("\tpublic key:", pk)
}

func makegenesiscmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.UsageFunc()(cmd)
		die(exitSemantic, "make-genesis needs a filename")
	}
	g := chain.Genesis{
		ChainID:   genesisChainID,
		Timestamp: types.CurrentTimestamp(),
	}
	for _, alloc := range genesisAllocs {
		addrStr, amountStr, found := strings.Cut(alloc, "=")
		if !found {
			die(exitSemantic, "allocation", alloc, "is not address=amount")
		}
		var addr types.Address
		if err := addr.LoadString(addrStr); err != nil {
			die(exitSemantic, "allocation address is malformed:", err)
		}
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil || amount == 0 {
			die(exitSemantic, "allocation amount", amountStr, "is not a positive integer")
		}
		g.Allocations = append(g.Allocations, chain.GenesisAlloc{Address: addr, Balance: amount})
	}
	if err := g.WriteFile(args[0]); err != nil {
		die(exitSemantic, "Could not write the genesis file:", err)
	}
	fmt.Println("Wrote", args[0], "for chain", g.ChainID, "with", len(g.Allocations), "allocations")
}

func faucetcmd(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		cmd.UsageFunc()(cmd)
		die(exitSemantic, "faucet needs an address and an amount")
	}
	if faucetKeyFile == "" {
		die(exitSemantic, "faucet needs --key naming the funding account's key file")
	}
	var to types.Address
	if err := to.LoadString(args[0]); err != nil {
		die(exitSemantic, "destination address is malformed:", err)
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil || amount == 0 {
		die(exitSemantic, "amount", args[1], "is not a positive integer")
	}
	sk, err := crypto.LoadSecretKey(faucetKeyFile)
	if err != nil {
		die(exitSemantic, "Could not load the key file:", err)
	}

	client := operatorClient()
	from := types.AddressFromKey(sk.PublicKey())
	acct, err := client.Balance(from)
	if err != nil {
		die(exitSemantic, "Could not read the funding account:", err)
	}
	tx := types.Transaction{
		Type:   types.TxTransfer,
		Nonce:  acct.Nonce + 1,
		Fee:    types.MinFee,
		To:     to,
		Amount: amount,
	}
	if err := tx.Sign(sk); err != nil {
		die(exitSemantic, "Could not sign the transfer:", err)
	}
	resp, err := client.SendTx(tx)
	if err != nil {
		die(exitSemantic, "Could not submit the transfer:", err)
	}
	fmt.Println("Sent", amount, "to", to)
	fmt.Println("\ttx:", resp.TxID)
}
