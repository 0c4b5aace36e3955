package utils

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// LamportsPerSol is the number of lamports in one SOL.
const LamportsPerSol = 1_000_000_000

// IsValidPubkey checks if a string is a valid base58 Solana public key
func IsValidPubkey(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// LamportsToSol converts a lamport amount to its SOL display value
func LamportsToSol(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSol
}

// SolToLamports converts a SOL display value to lamports
func SolToLamports(sol float64) uint64 {
	return uint64(sol * LamportsPerSol)
}

// FormatSol formats a lamport amount as a SOL string for display
func FormatSol(lamports uint64) string {
	return fmt.Sprintf("%.9f", LamportsToSol(lamports))
}
