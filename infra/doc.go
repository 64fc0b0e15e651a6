// Package infra contains technical adapters such as the MQTT notice
// listener, the SQLite repository and metrics exporters. These packages
// should depend only on the interfaces defined in the core packages.
package infra
