// Package memory provides in-memory blob and snapshot stores for local runs
// and tests.
package memory
