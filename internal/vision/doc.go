// Package vision implements the multi-camera PPE compliance core: a
// Kalman-filter multi-object tracker with optimal detection-to-track
// assignment, a temporal filter that debounces per-frame compliance signals
// into stable violation verdicts, a cross-camera person matcher built on
// spatial and appearance cues, and a fusion engine that merges two
// independent per-camera decision streams under a configurable policy.
//
// The package consumes ready-made detections; inference, camera I/O and the
// presentation surface live outside it, behind the Detector and PPEDetector
// interfaces.
package vision
