// Package ingest turns raw dropped or selected paths into registry entries.
//
// Normalize and DisplayName derive the registry key and label for a path.
// FSExpander resolves folders into the video files they contain, and Gateway
// ties expansion, normalization, atomic admission, and scan dispatch together
// so every entry point (CLI, HTTP, event bridge) behaves the same way.
package ingest
