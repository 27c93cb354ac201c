// Package services defines the shared error taxonomy and context plumbing
// used across pipeline stages and collaborators.
//
// Stage errors are tagged with one of the exported sentinel markers so the
// retry controller can classify failures without inspecting error strings.
package services
