// Package version carries the shake-guard build metadata.
//
// Version, Commit and BuildTime are set through -ldflags -X at release time.
// The update command compares Short against the published manifest.
package version
