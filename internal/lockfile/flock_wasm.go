//go:build js && wasm

package lockfile

import "os"

// WASM has no file locking and runs a single process, so every lock succeeds.

func FlockSharedNonBlock(*os.File) error    { return nil }
func FlockExclusiveNonBlock(*os.File) error { return nil }
func FlockExclusiveBlocking(*os.File) error { return nil }
func FlockUnlock(*os.File) error            { return nil }
