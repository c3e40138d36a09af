// Package storage defines the durable records and store contracts used by the
// conversation orchestrator and the holder resolver. Implementations live in
// the memory, mysql and postgres subpackages.
package storage
