// Command kalshikey encrypts a Kalshi RSA private key PEM for use as
// kalshi.encrypted_key_path, or decrypts one to check the password.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alanyoungcy/kalshibot/internal/crypto"
	"github.com/alanyoungcy/kalshibot/internal/platform/kalshi"
)

func main() {
	in := flag.String("in", "", "input file: PEM to encrypt, or encrypted JSON with -verify")
	out := flag.String("out", "kalshi_key.enc.json", "output path for the encrypted key")
	verify := flag.Bool("verify", false, "decrypt -in and check it holds an RSA key")
	flag.Parse()

	password := os.Getenv("KALSHIBOT_KALSHI_KEY_PASSWORD")
	if *in == "" || password == "" {
		fmt.Fprintln(os.Stderr, "usage: KALSHIBOT_KALSHI_KEY_PASSWORD=... kalshikey -in key.pem [-out file] [-verify]")
		os.Exit(2)
	}

	if err := run(*in, *out, password, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "kalshikey: %v\n", err)
		os.Exit(1)
	}
}

func run(in, out, password string, verify bool) error {
	if verify {
		pemBytes, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: in, KeyPassword: password})
		if err != nil {
			return err
		}
		if _, err := kalshi.ParsePrivateKey(pemBytes); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}

	pemBytes, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	if _, err := kalshi.ParsePrivateKey(pemBytes); err != nil {
		return err
	}
	enc, err := crypto.EncryptKey(pemBytes, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, enc, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}
