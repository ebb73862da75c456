// Package config loads and watches the agent configuration file.
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: id, server_endpoint, collect_interval, buffer_size, workers,
//     ship_rate/ship_burst, log_level, sources [], scoring, server_auth
//   - Source: id, type (spool|http), path with include/exclude globs, endpoint,
//     manifest JSONPaths, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, password_env; Key(), Token() and Password()
//     resolve from environment variables
//
// Load(path) reads the YAML file, applies defaults (30s collect, 1000 buffer,
// 4 workers), then PAGESCORE_* environment overrides, then validates required
// fields, enums, and every scoring calibration.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors by re-adding the watch after each reload.
package config
