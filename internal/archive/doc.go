// Package archive detects and removes container and compression envelopes
// from uploaded market data files.
//
// Detection looks at content first (bzip2, gzip, zip, tar magic, then a
// leading JSON value) and falls back to the filename extension. Envelopes
// nest up to MaxDepth, which covers the exchange's historical layout of a tar
// holding one bzip2 NDJSON file per market.
package archive
