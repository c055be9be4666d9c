// Package capability declares the narrow interfaces behind which every
// production step (script, speech, images, clips, compose, thumbnail, upload)
// lives, plus the artifacts they exchange.
//
// Implementations classify failures with services.Error kinds; the pipeline
// only ever sees these interfaces.
package capability
