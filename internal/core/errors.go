// Package core defines the fundamental types and errors for quest-tracker.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Storage errors
	ErrRecordNotFound  = errors.New("record not found")
	ErrMissingRecordID = errors.New("record must carry an existing id")

	// Cache errors
	ErrCacheMiss            = errors.New("no cached response for url")
	ErrPrecacheAssetMissing = errors.New("precache asset missing")

	// Coordinator errors
	ErrUnknownSyncTag = errors.New("unknown sync tag")
	ErrClientNotFound = errors.New("client not connected")
)
