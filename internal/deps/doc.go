// Package deps checks that the external programs behind the stage
// processors are installed.
package deps
