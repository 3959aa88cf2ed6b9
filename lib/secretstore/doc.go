// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

// Package secretstore serves workspace secrets and variables to the
// trusted side of the executor.
//
// A store is one YAML document keyed by environment:
//
//	environments:
//	  default:
//	    secrets:
//	      slack:
//	        SLACK_BOT_TOKEN: xoxb-...
//	    variables:
//	      urls:
//	        base: https://api.example.com
//
// The file is normally age-encrypted (binary or ASCII-armored) to an
// x25519 recipient; [Open] decrypts it with an identity file. Plaintext
// files are accepted for development. Decrypted bytes and the identity
// are held in [secret.Buffer]s and zeroed once parsed.
package secretstore
