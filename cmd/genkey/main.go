package main

import (
	"fmt"
	"os"

	"github.com/eldtechnologies/carelink/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate key:", err)
		os.Exit(1)
	}

	fmt.Printf("CARELINK_STORAGE_KEY=%s\n", key)
}
