// Package loader validates the raw JSON records handed to the pipeline and
// converts them into the typed camera, stroke and correspondence values the
// core consumes.
//
// Validation is strict: stroke or point lists encoded as JSON strings,
// points without numeric x/y, and matrices of the wrong shape are rejected
// with an error naming the offending record instead of being re-parsed.
// Unknown extra fields are ignored since upstream tools add their own.
package loader
