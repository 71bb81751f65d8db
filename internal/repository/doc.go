// Package repository defines persistence for probe results.
//
// The discovery core never touches storage; the Repository interface is
// the consumer side of its contract. The sqlite subpackage provides the
// default implementation.
package repository
