package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/transaction"
)

func main() {
	var (
		envPath = flag.String("env", "", "path to .env file (default: ./.env)")
		txType  = flag.String("type", string(transaction.TxTypeCancelOrder), "transaction type: send, set_viewing_key, cancel_order, register_tokens, rescue_tokens, update_config")
		payload = flag.String("payload", `{"position":0}`, "JSON payload")
		nonce   = flag.Uint64("nonce", 1, "account nonce; must exceed the last executed one")
		keyHex  = flag.String("key", "", "hex private key (default: NODE_SIGNER_KEY, or a fresh key)")
		verify  = flag.Bool("verify", true, "verify the signature after signing")
	)
	flag.Parse()

	cfg, err := params.Load(*envPath)
	if err != nil {
		fail("config", err)
	}

	// Step 1: Load or generate key
	if *keyHex == "" {
		*keyHex = cfg.Node.SignerKey
	}
	var signer *crypto.Signer
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Fprintln(os.Stderr, "Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		}
	}
	if err != nil {
		fail("key", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())

	// Step 2: Build and sign the envelope
	var body json.RawMessage
	if err := json.Unmarshal([]byte(*payload), &body); err != nil {
		fail("payload", err)
	}
	tx, err := transaction.New(transaction.TxType(*txType), signer.Address(), *nonce, body)
	if err != nil {
		fail("build", err)
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Chain.ChainID)
	if err := tx.Sign(crypto.NewEIP712Signer(domain), signer); err != nil {
		fail("sign", err)
	}
	if err := tx.Validate(); err != nil {
		fail("validate", err)
	}

	// Step 3: Verify signature
	if *verify {
		recovered, err := transaction.NewVerifier(domain).Verify(tx)
		if err != nil {
			fail("verify", err)
		}
		fmt.Fprintf(os.Stderr, "Signature valid, signer %s\n", recovered.Hex())
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Println(string(out))

	fmt.Fprintln(os.Stderr, "\nTo submit this transaction:")
	fmt.Fprintf(os.Stderr, "  curl -X POST http://localhost%s/api/v1/txs -H 'Content-Type: application/json' -d @tx.json\n", cfg.API.Addr)
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
