// Package config resolves the configuration catalysst works with.
//
// # Repository configuration
//
// Each event is planned against an effective configuration built in three
// layers, later layers winning:
//
//  1. Built-in defaults (Defaults).
//  2. An optional server defaults file, served by DefaultsWatcher and
//     hot-reloaded with fsnotify.
//  3. The first repository file among CandidatePaths that can be read and
//     parsed.
//
// Scalars are replaced; branchMappings is merged key by key. A mapping with
// an empty value removes the inherited mapping:
//
//	sstWorkspace: acme
//	workflowId: deploy.yml
//	branchMappings:
//	  main: production
//	  staging: ""
//
// Resolver implements engine.ConfigResolver. Missing files fall through to
// the next candidate, unparsable or invalid files are logged and skipped, and
// any other read failure is returned as a retryable error.
//
// # Service configuration
//
// ServiceConfig is loaded from an optional YAML file with ${VAR} expansion
// and then overridden from the environment (APP_ID, PRIVATE_KEY,
// WEBHOOK_SECRET, LISTEN_ADDR, ...). Validate checks what is required to
// serve webhooks.
package config
