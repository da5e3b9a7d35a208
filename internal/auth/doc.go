// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth verifies telnet logins against a static table of users and
// argon2id password hashes.
//
// Hashes use the PHC string format produced by Argon2idHasher.Hash and the
// hash-password command:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
//
// Repeated failures for one user lock that user out for a while.
package auth
