// Package stores contains the Redis persistence layers owned by the engine:
// single-use verification token records with binary encoding and CAS
// consumption.
package stores
