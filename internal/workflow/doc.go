// Package workflow coordinates flows through the download, audio-processing,
// and summarization stages.
//
// The Producer admits new flows: it validates the source URL, reserves a
// slot in the Tracker, creates the task manifest, and enqueues the first
// stage job. The Runner claims stage jobs from the queue and executes the
// matching stage.Processor on an ants worker pool under the stage timeout,
// keeping the job lease alive with heartbeats. The Orchestrator reacts to
// StageStarted, StageProgress, and StageFinished: it serializes manifest
// writes per task, advances status, chains the next stage, and decides
// between retry and terminal failure. The Tracker holds the in-memory
// progress view that status queries and admission control read.
//
// Recovery after a restart returns abandoned jobs to the queue, rebuilds
// tracker entries from manifests, and re-enqueues any stage whose job went
// missing.
package workflow
