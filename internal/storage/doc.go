// Package storage confines client-supplied file names to a single storage
// root and streams files in and out of it. It performs no logging; callers
// map its typed errors onto their own transport.
package storage
