package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/los-tecnicos/gridledger/pkg/app/core/transaction"
	"github.com/los-tecnicos/gridledger/pkg/crypto"
)

func main() {
	// Step 1: Generate or load key
	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Build a sample sell order
	tx := &transaction.SignedTx{
		Type: transaction.TxTypeCreateOrder,
		CreateOrder: &transaction.CreateOrderPayload{
			Owner:    signer.Address().Hex(),
			Side:     2, // Sell
			Quantity: 50,
			Price:    10,
			DeviceID: "meter-rooftop-01",
			Nonce:    1,
		},
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Side: sell\n")
	fmt.Printf("  Quantity: %d kWh\n", tx.CreateOrder.Quantity)
	fmt.Printf("  Price: %d tokens/kWh\n", tx.CreateOrder.Price)
	fmt.Printf("  Device: %s\n", tx.CreateOrder.DeviceID)
	fmt.Printf("  Owner: %s\n\n", tx.CreateOrder.Owner)

	// Step 3: Sign the canonical digest
	digest, err := tx.Digest()
	if err != nil {
		fmt.Printf("Error building digest: %v\n", err)
		os.Exit(1)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	tx.Signature = fmt.Sprintf("0x%x", sig)

	fmt.Printf("Signature: %s\n\n", tx.Signature)

	// Step 4: Serialize to JSON
	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Signed Transaction (JSON):")
	fmt.Println(string(txJSON))
	fmt.Println()

	// Step 5: Verify signature
	fmt.Println("Verifying signature...")
	verifier := transaction.NewVerifier()
	recovered, err := verifier.Verify(tx)
	if err != nil {
		fmt.Printf("✗ Signature INVALID: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n", recovered.Hex())
	fmt.Printf("  Matches owner: %v\n\n", recovered == signer.Address())

	// Step 6: Show how to submit to the node
	fmt.Println("To submit this order to GridLedger:")
	fmt.Println("  POST http://localhost:8080/api/v1/tx")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(txJSON))
}
