// Command keygen generates a random bearer secret for static auth mode.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
)

func main() {
	length := flag.Int("bytes", 32, "number of random bytes in the secret")
	flag.Parse()

	if *length < 16 {
		log.Fatal("secret must be at least 16 bytes")
	}

	buf := make([]byte, *length)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("failed to generate secret: %v", err)
	}
	secret := hex.EncodeToString(buf)

	fmt.Printf("API_TOKEN=%s\n", secret)
	fmt.Println()
	fmt.Println("Export the variable above, or add to config.yaml:")
	fmt.Println("  auth:")
	fmt.Println("    mode: static")
	fmt.Printf("    token: %q\n", secret)
}
