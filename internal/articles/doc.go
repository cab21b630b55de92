// Package articles stores feed items and hands them to workflow starts
// through an atomic claim. A claim is a conditional UPDATE guarded by a
// rows-affected check, so concurrent starts for the same family never consume
// the same article.
package articles
