package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"strings"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/selector"

	"github.com/ethereum/go-ethereum/common"
)

// Recomputes a draw offline from the published commitment order and seed.
func main() {
	list := flag.String("commitments", "", "comma separated commitments in registration order")
	seedHex := flag.String("seed", "", "randomness seed as hex")
	family := flag.String("hash", string(commitment.HashKeccak256), "hash family: keccak256 | blake2b256")
	flag.Parse()

	engine, err := commitment.NewEngine(commitment.HashFamily(*family))
	if err != nil {
		log.Fatalf("Invalid hash family: %v", err)
	}

	seed, err := hex.DecodeString(strings.TrimPrefix(*seedHex, "0x"))
	if err != nil {
		log.Fatalf("Invalid seed: %v", err)
	}

	var commitments []common.Hash
	for _, s := range strings.Split(*list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		c, err := commitment.ParseCommitment(s)
		if err != nil {
			log.Fatalf("Invalid commitment %q: %v", s, err)
		}
		commitments = append(commitments, c)
	}

	idx, winner, err := selector.Select(engine, commitments, seed)
	if err != nil {
		log.Fatalf("❌ Selection failed: %v", err)
	}

	fmt.Printf("🎲 hash=%s participants=%d\n", engine.Family(), len(commitments))
	fmt.Printf("   digest: %s\n", selector.Digest(engine, commitments, seed).Hex())
	fmt.Printf("✅ winner index: %d\n", idx)
	fmt.Printf("✅ winner:       %s\n", winner.Hex())
}
