// Package config loads the intake service configuration.
//
// Values come from three sources, highest precedence first:
//
//  1. Environment variables prefixed with BFI_, e.g. BFI_SERVER_PORT or
//     BFI_STORAGE_BACKEND
//  2. A YAML file named by BFI_CONFIG_FILE, or config.yaml / configs/config.yaml
//  3. The default tags on the config structs
//
// Example config.yaml:
//
//	server:
//	  port: 8080
//	storage:
//	  backend: sqlite
//	  sqlite_path: /var/lib/bfintake/cache.db
//	pipeline:
//	  workers: 8
//	  file_timeout: 10m
//
// Record merge policies and archive format rules are fixed in code and are
// deliberately absent from configuration so identical input bytes always
// reconstruct to identical output.
package config
