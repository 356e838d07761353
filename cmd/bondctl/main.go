package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"greenbonds/cmd/internal/passphrase"
	"greenbonds/crypto"
	"greenbonds/rpc"
)

const (
	defaultRPC      = "http://127.0.0.1:8080"
	defaultKeystore = "./bondctl.keystore"
	defaultPassEnv  = "GREENBONDS_KEYSTORE_PASS"
	defaultTokenEnv = "GREENBONDS_RPC_TOKEN"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := dispatch(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, command string, args []string, out io.Writer) error {
	switch command {
	case "keygen":
		return runKeygen(args, out)
	case "address":
		return runAddress(args, out)
	case "admin-token":
		return runAdminToken(args, out)
	case "query":
		return runQuery(ctx, args, out)
	case "send":
		return runSend(ctx, args, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: bondctl <command> [flags]

Commands:
  keygen       create a keystore holding a new signing key
  address      print the address of a keystore
  admin-token  mint an admin bearer token for bond_create
  query        call a read-only or admin method
  send         sign and submit a state-changing method`)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*keystorePath); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists; use -force to overwrite", *keystorePath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	pass, err := passphrase.NewSource(*passEnv, passphrase.Create).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return err
	}
	fmt.Fprintf(out, "Address: %s\nKeystore: %s\n", key.PubKey().Address(), *keystorePath)
	return nil
}

func loadKey(keystorePath, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passEnv, passphrase.Unlock).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(keystorePath, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", keystorePath, err)
	}
	return key, nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address())
	return nil
}

func runAdminToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	secretEnv := fs.String("secret-env", defaultTokenEnv, "Environment variable holding the node's admin secret")
	subject := fs.String("subject", "operator", "Subject recorded in the token")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := rpc.IssueAdminToken(os.Getenv(*secretEnv), *subject, *ttl, time.Now())
	if err != nil {
		return fmt.Errorf("%s: %w", *secretEnv, err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func parseJSONArg(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}
	if strings.HasPrefix(trimmed, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(trimmed, "@"))
		if err != nil {
			return nil, err
		}
		trimmed = strings.TrimSpace(string(data))
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("params must be valid JSON")
	}
	return json.RawMessage(trimmed), nil
}

func printResult(out io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	var pretty interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

func runQuery(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	endpoint := fs.String("rpc", defaultRPC, "Node RPC base URL")
	method := fs.String("method", "", "JSON-RPC method, e.g. bond_get")
	params := fs.String("params", "", "JSON params object, or @file")
	tokenEnv := fs.String("token-env", "", "Environment variable holding an admin bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*method) == "" {
		return errors.New("-method required")
	}
	body, err := parseJSONArg(*params)
	if err != nil {
		return err
	}
	client := rpc.NewClient(*endpoint)
	if *tokenEnv != "" {
		client.SetAdminToken(os.Getenv(*tokenEnv))
	}
	var result json.RawMessage
	if err := client.Call(ctx, *method, body, &result); err != nil {
		return err
	}
	return printResult(out, result)
}

func runSend(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	endpoint := fs.String("rpc", defaultRPC, "Node RPC base URL")
	method := fs.String("method", "", "JSON-RPC method, e.g. bond_commit")
	payload := fs.String("payload", "", "JSON payload object, or @file")
	keystorePath := fs.String("keystore", defaultKeystore, "Keystore of the signing account")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	ttl := fs.Duration("ttl", 2*time.Minute, "Envelope lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*method) == "" {
		return errors.New("-method required")
	}
	body, err := parseJSONArg(*payload)
	if err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := rpc.NewClient(*endpoint).CallSigned(ctx, key, *method, body, *ttl, &result); err != nil {
		return err
	}
	return printResult(out, result)
}
