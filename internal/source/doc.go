// Package source locates and patches the node source file that receives the
// local API extension.
//
// The fragment is fixed and embedded at build time. Patching refuses a file
// that already carries it, so a tree left dirty by an interrupted run is
// reported instead of being patched twice.
package source
