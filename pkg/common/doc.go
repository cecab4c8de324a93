// Package common provides error utilities shared across the FHIRPath
// engine: sentinel errors for the compile/evaluate API boundary and a
// PathError wrapper carrying resource-path context.
package common
