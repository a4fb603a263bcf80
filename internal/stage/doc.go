// Package stage defines the contract between the workflow and the processors
// that perform one pipeline stage: the input handed to a stage, the progress
// callback it reports through, and the result forwarded to the next stage.
package stage
