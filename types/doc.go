// Package types defines the shared data model of the coordination core:
// task descriptions, execution results, enrichment records, and the
// structured error taxonomy used across all components.
package types
