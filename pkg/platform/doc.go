// Package platform defines the operations burrow performs against the
// container platform hosting the workload, and the error classes backends
// map provider failures onto. Backends live in the aws, docker and memory
// subpackages.
package platform
