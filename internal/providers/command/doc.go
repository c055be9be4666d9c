// Package command backs the media capabilities (speech, images, clips,
// compose, thumbnail, upload) with external tools such as edge-tts or an
// ffmpeg wrapper.
//
// Each call writes its input to the job work directory, renders the
// provider's argument templates with Data, runs the command and checks that
// the output file exists. Exit codes listed as permanent map to
// invalid_input; every other failure is provider_unavailable so the stage's
// retry policy can try again.
package command
