//go:build ignore

// One-off: go run scripts/genhash.go [-cost N] <password>
// Prints a bcrypt hash suitable for seeding users.password_hash by hand.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost, same range as BCRYPT_COST")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: go run scripts/genhash.go [-cost N] <password>")
		os.Exit(2)
	}
	password := flag.Arg(0)
	if len(password) < 6 {
		fmt.Fprintln(os.Stderr, "password must be at least 6 characters")
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), *cost)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(h))
}
