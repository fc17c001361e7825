package ipc

import (
	"os"
	"path/filepath"
)

const (
	// DefaultSourceProviderSock is producerd's well-known socket filename
	// under the runtime directory (spec.md §6).
	DefaultSourceProviderSock = "ingestd-producerd.sock"
	// DefaultConsumerSock is consumerd's well-known socket filename.
	DefaultConsumerSock = "ingestd-consumerd.sock"
)

// RuntimeDir resolves the directory socket paths live under: $HOME (or
// $USERPROFILE on Windows) per spec.md §6, additionally honoring
// $XDG_RUNTIME_DIR when set (SPEC_FULL.md §7, an ambient Unix convention
// that does not contradict the spec's fallback).
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("HOME"); dir != "" {
		return dir
	}
	return os.Getenv("USERPROFILE")
}

// ProducerSockPath is the full path to producerd's listening socket.
func ProducerSockPath() string {
	return filepath.Join(RuntimeDir(), DefaultSourceProviderSock)
}

// ConsumerSockPath is the full path to consumerd's listening socket.
func ConsumerSockPath() string {
	return filepath.Join(RuntimeDir(), DefaultConsumerSock)
}
