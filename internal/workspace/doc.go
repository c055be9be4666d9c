// Package workspace manages the per-job working directories the pipeline
// creates under output_dir/<line>/<job id>, listing them and pruning old ones.
package workspace
