// Package core defines the shared language of the leapreport system.
//
// This package contains:
//   - Domain entities (Suite, Browser, Result, Image, Group)
//   - Status enums and their ordering helpers
//   - The canonical event union and its wire frame
//   - The snapshot shape exchanged with persistence and bootstrapping clients
//   - Typed errors shared across components
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
