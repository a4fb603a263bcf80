// Package pipeline declares the fixed shape of a flow: the ordered stages,
// the manifest status values each stage owns, the progress weight table, and
// the forward-only status transition rules.
//
// Everything that needs to know "what comes next" asks this package rather
// than encoding stage names itself, so adding a stage is a single edit here.
package pipeline
