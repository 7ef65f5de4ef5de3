// Package storage simulates object-storage buckets.
//
// Bucket names are DNS-style and unique across the process. Objects are
// kept inside the bucket record; with versioning enabled every put appends
// a version and a delete removes only the newest one, so older content
// resurfaces until the last version is gone. Without versioning a put
// overwrites and a delete removes the key.
//
// A bucket that still holds objects cannot be deleted unless the caller
// forces it.
package storage
