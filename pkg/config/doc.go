// Package config loads the collector's YAML configuration document:
// desired symbols, cron schedule definitions, and tunables, with
// UPPER_SNAKE environment overrides applied on top and an fsnotify-driven
// hot-reload path for long-running processes.
package config
