// Package stages is the stage catalog: it turns each configured line into a
// pipeline whose stages call the capability providers named in the line's
// chains, and attaches the validation gates that decide whether a stage
// output is usable (script length and topic rules, non-empty media files, an
// upload id).
package stages
