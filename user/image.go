// Package user contains the programs that run in U-mode and the runtime stub
// they use to talk to the kernel.
//
// Programs are Go functions. Their images carry a small header naming the
// program; the platform reads the header at the entry point and runs the
// registered function on behalf of the hart.
package user

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"rvos/abi"
)

const (
	pageSize = 4096

	// ImagePages is the size of every program image in pages.
	ImagePages = 4

	// HeaderSize is the size of the image header at the entry point.
	HeaderSize = 32

	nameMax = HeaderSize - len(imageMagic)

	// scratchBase is the start of the region the runtime uses to pass
	// syscall arguments.
	scratchBase = abi.UserBase + pageSize

	// StackTop is the initial stack pointer of a program.
	StackTop = abi.UserBase + ImagePages*pageSize
)

const imageMagic = "\x7fRVU"

var (
	// ErrBadImage is returned by Lookup for images without a valid header.
	ErrBadImage = errors.New("not a user program image")

	// ErrUnknownProgram is returned for names that were never registered.
	ErrUnknownProgram = errors.New("unknown program")
)

// Program is the entrypoint of a user program.
type Program func(rt *Runtime)

var programs = map[string]Program{}

// Register makes a program available under name. It is meant to be called
// from init functions.
func Register(name string, prog Program) {
	if len(name) == 0 || len(name) > nameMax {
		panic(fmt.Sprintf("user: invalid program name %q", name))
	}

	if _, exists := programs[name]; exists {
		panic(fmt.Sprintf("user: program %q registered twice", name))
	}

	programs[name] = prog
}

// Programs returns the names of the registered programs in sorted order.
func Programs() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Image builds the image of the named program.
func Image(name string) ([]byte, error) {
	if _, ok := programs[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, name)
	}

	image := make([]byte, ImagePages*pageSize)
	copy(image, imageMagic)
	copy(image[len(imageMagic):HeaderSize], name)

	return image, nil
}

// Lookup decodes an image header and returns the program it names.
func Lookup(header []byte) (string, Program, error) {
	if len(header) < HeaderSize || !bytes.HasPrefix(header, []byte(imageMagic)) {
		return "", nil, ErrBadImage
	}

	name := header[len(imageMagic):HeaderSize]
	if end := bytes.IndexByte(name, 0); end >= 0 {
		name = name[:end]
	}

	prog, ok := programs[string(name)]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownProgram, name)
	}

	return string(name), prog, nil
}
