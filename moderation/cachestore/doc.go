// Short-lived cache of arbitrary data (as JSON strings) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The scorer uses this to remember classifier results by text hash, so repeated
// spam does not spend remote classifier quota.
package cachestore
