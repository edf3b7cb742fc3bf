package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
)

// Prints the current admin TOTP code, or provisions a new secret with -new.
func main() {
	provision := flag.Bool("new", false, "generate a new ADMIN_TOTP_SECRET")
	account := flag.String("account", "admin", "account name for the otpauth URL")
	flag.Parse()

	if *provision {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "Lottery Coordinator",
			AccountName: *account,
		})
		if err != nil {
			fmt.Printf("Error generating TOTP secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("ADMIN_TOTP_SECRET=%s\n", key.Secret())
		fmt.Printf("otpauth URL: %s\n", key.URL())
		return
	}

	secret := os.Getenv("ADMIN_TOTP_SECRET")
	if secret == "" {
		fmt.Println("ADMIN_TOTP_SECRET is not set (use -new to provision one)")
		os.Exit(1)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		fmt.Printf("Error generating TOTP code: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Current TOTP Code: %s\n", code)
	fmt.Printf("Valid for: ~%d seconds\n", 30-time.Now().Unix()%30)
}
