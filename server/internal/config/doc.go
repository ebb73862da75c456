// Package config reads the `server:` section of config.yaml. The `agent:`
// section of a shared file is ignored.
//
// Loading applies built-in defaults, then the YAML, then PAGESCORE_SERVER_*
// environment overrides (grpc and http ports, log level, report TTL).
// Validation collects every problem it finds, so one failed start lists all
// of them.
//
// Secrets never appear in the file itself: the API key and webhook URLs are
// named by environment variable (key_env, url_env) and resolved at use.
package config
