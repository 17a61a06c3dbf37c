// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package reactor

// setThreadAffinity is unsupported: Darwin only offers affinity hints.
func setThreadAffinity(int) error {
	return ErrUnsupported
}
