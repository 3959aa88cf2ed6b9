// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package secretstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"gopkg.in/yaml.v3"

	"github.com/tracecathq/executor/lib/secret"
)

// maxStoreSize bounds the decrypted document.
const maxStoreSize = 16 << 20

// binaryHeader prefixes every binary age file.
const binaryHeader = "age-encryption.org/v1"

type document struct {
	Environments map[string]environment `yaml:"environments"`
}

type environment struct {
	Secrets   map[string]map[string]string `yaml:"secrets"`
	Variables map[string]map[string]string `yaml:"variables"`
}

// NotFoundError reports secrets requested but absent from an
// environment.
type NotFoundError struct {
	Environment string
	Names       []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secrets not found in environment %q: %s", e.Environment, strings.Join(e.Names, ", "))
}

// Store is an immutable, parsed secret store.
type Store struct {
	environments map[string]environment
}

// Open reads the store at path. When identityPath is non-empty the
// file is decrypted with the age identities it contains; otherwise the
// file must be plaintext YAML.
func Open(path, identityPath string) (*Store, error) {
	ciphertext, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret store: %w", err)
	}
	defer ciphertext.Close()
	data, err := ciphertext.Bytes()
	if err != nil {
		return nil, err
	}

	if identityPath == "" {
		if isEncrypted(data) {
			return nil, fmt.Errorf("secret store %s is encrypted but no identity file is configured", path)
		}
		return Parse(data)
	}

	identities, err := readIdentities(identityPath)
	if err != nil {
		return nil, err
	}
	plaintext, err := Decrypt(data, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}
	defer plaintext.Close()
	decrypted, err := plaintext.Bytes()
	if err != nil {
		return nil, err
	}
	return Parse(decrypted)
}

// Parse builds a Store from a plaintext YAML document.
func Parse(data []byte) (*Store, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing secret store: %w", err)
	}
	if doc.Environments == nil {
		doc.Environments = map[string]environment{}
	}
	return &Store{environments: doc.Environments}, nil
}

func isEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(binaryHeader)) ||
		bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header))
}

// readIdentities parses an age identity file (one identity per line,
// # comments allowed) held in protected memory.
func readIdentities(path string) ([]age.Identity, error) {
	buffer, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer buffer.Close()
	data, err := buffer.Bytes()
	if err != nil {
		return nil, err
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return identities, nil
}

// Decrypt decrypts binary or armored age ciphertext into a Buffer.
func Decrypt(ciphertext []byte, identities ...age.Identity) (*secret.Buffer, error) {
	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		source = armor.NewReader(bufio.NewReader(bytes.NewReader(bytes.TrimSpace(ciphertext))))
	}
	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, err
	}
	return secret.ReadAll(reader, maxStoreSize)
}

// Seal encrypts plaintext to the given age recipients (age1...). When
// armored is set the output is ASCII-armored.
func Seal(plaintext []byte, recipientKeys []string, armored bool) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var output bytes.Buffer
	var sink io.WriteCloser = nopCloser{&output}
	if armored {
		sink = armor.NewWriter(&output)
	}
	writer, err := age.Encrypt(sink, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := sink.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return output.Bytes(), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// GenerateIdentity returns a new x25519 identity and its recipient.
func GenerateIdentity() (identity, recipient string, err error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating identity: %w", err)
	}
	return generated.String(), generated.Recipient().String(), nil
}

// Secrets returns copies of the named secrets from env. Every name
// must exist.
func (s *Store) Secrets(_ context.Context, env string, names []string) (map[string]map[string]string, error) {
	values := s.environments[env].Secrets
	result := make(map[string]map[string]string, len(names))
	var missing []string
	for _, name := range names {
		keys, ok := values[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		result[name] = copyKeys(keys)
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, &NotFoundError{Environment: env, Names: missing}
	}
	return result, nil
}

// Variables returns copies of every variable in env.
func (s *Store) Variables(_ context.Context, env string) (map[string]map[string]string, error) {
	values := s.environments[env].Variables
	result := make(map[string]map[string]string, len(values))
	for name, keys := range values {
		result[name] = copyKeys(keys)
	}
	return result, nil
}

// Environments returns the environment names in sorted order.
func (s *Store) Environments() []string {
	names := make([]string, 0, len(s.environments))
	for name := range s.environments {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func copyKeys(keys map[string]string) map[string]string {
	copied := make(map[string]string, len(keys))
	for key, value := range keys {
		copied[key] = value
	}
	return copied
}
