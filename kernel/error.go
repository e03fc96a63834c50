// Package kernel contains the types shared by every kernel subsystem.
package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error so they can be compared by identity and passed to
// kfmt.Panic without building new values on the fault path.
type Error struct {
	// The subsystem that raised the error (e.g. "vmm", "virtio").
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}
