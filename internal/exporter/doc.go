// Package exporter renders reconstructed markets as json, csv or parquet.
//
// JSON keeps the full market and runner detail and can embed a metadata
// block. CSV and Parquet are flat, one row per (market, runner), with the
// fixed column set in Columns:
//
//	market_id, market_name, status, runner_id, runner_name, runner_status
//
// Both flat encodings decode back to the same []Row, so either can stand in
// for the other in downstream tooling.
package exporter
