// Package command runs external programs for the pipeline.
//
// Every invocation names its working directory explicitly; nothing here
// changes the working directory of the process.
package command
