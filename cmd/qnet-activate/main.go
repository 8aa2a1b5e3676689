// Copyright 2025 QNet Project
//
// Command qnet-activate is an operator CLI that submits a node activation
// request to a running qnetd's /activate endpoint and prints the resulting
// node ID and activation code, mirroring the teacher's small flag.Parse
// admin-CLI pattern (main.go's -validator-id/-help flags) rather than
// linking against pkg/core or pkg/lifecycle directly: activation is a
// remote operation against whichever node the operator is enrolling
// against, not a local computation.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type activateRequest struct {
	WalletAddress string `json:"wallet_address"`
	ProofRef      string `json:"proof_ref"`
	NodeType      string `json:"node_type"`
	RegionHint    string `json:"region_hint"`
	Phase         int    `json:"phase"`
	TotalBurned   uint64 `json:"total_burned"`
}

type activateResponse struct {
	ActivationCode string `json:"ActivationCode"`
	NodeID         string `json:"NodeID"`
}

func main() {
	var (
		nodeAddr      = flag.String("node", "http://127.0.0.1:8081", "qnetd health/admin address")
		walletAddress = flag.String("wallet", "", "wallet address binding this activation")
		proofRef      = flag.String("proof", "", "reference to the confirmed burn or pool-transfer proof")
		nodeType      = flag.String("type", "light", "node type: light, full, or super")
		regionHint    = flag.String("region", "", "optional region hint for peer diversity")
		phase         = flag.Int("phase", 1, "activation phase: 1 (burn) or 2 (pool transfer)")
		totalBurned   = flag.Uint64("total-burned", 0, "network-wide 1DEV units burned so far (phase 1 pricing)")
		showHelp      = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}
	if *walletAddress == "" || *proofRef == "" {
		fmt.Fprintln(os.Stderr, "qnet-activate: -wallet and -proof are required")
		os.Exit(1)
	}

	req := activateRequest{
		WalletAddress: *walletAddress,
		ProofRef:      *proofRef,
		NodeType:      *nodeType,
		RegionHint:    *regionHint,
		Phase:         *phase,
		TotalBurned:   *totalBurned,
	}

	resp, err := submitActivation(*nodeAddr, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qnet-activate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("node_id:         %s\n", resp.NodeID)
	fmt.Printf("activation_code: %s\n", resp.ActivationCode)
}

func submitActivation(nodeAddr string, req activateRequest) (*activateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal activation request: %w", err)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	httpResp, err := client.Post(nodeAddr+"/activate", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("send activation request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read activation response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node rejected activation (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp activateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse activation response: %w", err)
	}
	return &resp, nil
}

func printHelp() {
	fmt.Println(`qnet-activate - submit a node activation request to a qnetd node

Usage:
  qnet-activate -wallet <address> -proof <proof-ref> [flags]

Flags:
  -node string          qnetd health/admin address (default "http://127.0.0.1:8081")
  -wallet string        wallet address binding this activation (required)
  -proof string         reference to the confirmed burn or pool-transfer proof (required)
  -type string          node type: light, full, or super (default "light")
  -region string        optional region hint for peer diversity
  -phase int             activation phase: 1 (burn) or 2 (pool transfer) (default 1)
  -total-burned uint     network-wide 1DEV units burned so far, for phase 1 pricing
  -help                  Show this help message`)
}
