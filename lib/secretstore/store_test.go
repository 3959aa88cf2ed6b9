// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package secretstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleDocument = `
environments:
  default:
    secrets:
      slack:
        SLACK_BOT_TOKEN: xoxb-default
      virustotal:
        API_KEY: vt-key
    variables:
      urls:
        base: https://api.example.com
  staging:
    secrets:
      slack:
        SLACK_BOT_TOKEN: xoxb-staging
`

func writeFile(t *testing.T, directory, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(directory, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSecretsByEnvironment(t *testing.T) {
	store, err := Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx := context.Background()

	secrets, err := store.Secrets(ctx, "staging", []string{"slack"})
	if err != nil {
		t.Fatalf("Secrets: %v", err)
	}
	if got := secrets["slack"]["SLACK_BOT_TOKEN"]; got != "xoxb-staging" {
		t.Errorf("staging token = %q", got)
	}

	variables, err := store.Variables(ctx, "default")
	if err != nil {
		t.Fatalf("Variables: %v", err)
	}
	if got := variables["urls"]["base"]; got != "https://api.example.com" {
		t.Errorf("variable = %q", got)
	}

	if got := store.Environments(); !reflect.DeepEqual(got, []string{"default", "staging"}) {
		t.Errorf("Environments() = %v", got)
	}
}

func TestSecretsMissingNamesReported(t *testing.T) {
	store, err := Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Secrets(context.Background(), "staging", []string{"virustotal", "slack", "abuseipdb"})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
	if !reflect.DeepEqual(notFound.Names, []string{"abuseipdb", "virustotal"}) {
		t.Errorf("missing = %v", notFound.Names)
	}
}

func TestSecretsReturnsCopies(t *testing.T) {
	store, err := Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}
	first, _ := store.Secrets(context.Background(), "default", []string{"slack"})
	first["slack"]["SLACK_BOT_TOKEN"] = "mutated"
	second, _ := store.Secrets(context.Background(), "default", []string{"slack"})
	if second["slack"]["SLACK_BOT_TOKEN"] != "xoxb-default" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestOpenEncrypted(t *testing.T) {
	identity, recipient, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	for _, armored := range []bool{false, true} {
		directory := t.TempDir()
		sealed, err := Seal([]byte(sampleDocument), []string{recipient}, armored)
		if err != nil {
			t.Fatalf("Seal(armored=%v): %v", armored, err)
		}
		storePath := writeFile(t, directory, "secrets.age", sealed)
		identityPath := writeFile(t, directory, "identity.txt", []byte("# executor\n"+identity+"\n"))

		store, err := Open(storePath, identityPath)
		if err != nil {
			t.Fatalf("Open(armored=%v): %v", armored, err)
		}
		secrets, err := store.Secrets(context.Background(), "default", []string{"virustotal"})
		if err != nil {
			t.Fatal(err)
		}
		if secrets["virustotal"]["API_KEY"] != "vt-key" {
			t.Errorf("armored=%v: secret = %v", armored, secrets)
		}
	}
}

func TestOpenEncryptedWithoutIdentityFails(t *testing.T) {
	_, recipient, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := Seal([]byte(sampleDocument), []string{recipient}, false)
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, t.TempDir(), "secrets.age", sealed)
	_, err = Open(path, "")
	if err == nil || !strings.Contains(err.Error(), "no identity file") {
		t.Fatalf("error = %v", err)
	}
}

func TestOpenWrongIdentityFails(t *testing.T) {
	_, recipient, _ := GenerateIdentity()
	otherIdentity, _, _ := GenerateIdentity()
	sealed, err := Seal([]byte(sampleDocument), []string{recipient}, false)
	if err != nil {
		t.Fatal(err)
	}
	directory := t.TempDir()
	storePath := writeFile(t, directory, "secrets.age", sealed)
	identityPath := writeFile(t, directory, "identity.txt", []byte(otherIdentity+"\n"))
	if _, err := Open(storePath, identityPath); err == nil {
		t.Fatal("expected decryption failure with the wrong identity")
	}
}

func TestOpenPlaintext(t *testing.T) {
	path := writeFile(t, t.TempDir(), "secrets.yaml", []byte(sampleDocument))
	store, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(store.Environments()) != 2 {
		t.Errorf("Environments() = %v", store.Environments())
	}
}
