package user

import (
	"fmt"
	"strings"
)

const (
	cmdlineMax   = 128
	defaultFile  = "hello.txt"
	defaultWrite = "Hello from shell!\n"
)

func init() {
	Register("shell", Shell)
}

// Shell is an interactive command interpreter. It understands:
//
//	hello                    print a greeting
//	exit                     terminate the shell
//	readfile [name]          print the contents of a file
//	writefile [name [data]]  replace the contents of a file
//
// Files default to hello.txt.
func Shell(rt *Runtime) {
	for {
		fmt.Fprint(rt, "> ")

		cmdline, ok := readLine(rt)
		if !ok {
			fmt.Fprint(rt, "command line too long\n")
			continue
		}

		args := strings.Fields(cmdline)
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "hello":
			fmt.Fprint(rt, "Hello world from shell!\n")
		case "exit":
			rt.Exit()
		case "readfile":
			readFile(rt, args[1:])
		case "writefile":
			writeFile(rt, args[1:])
		default:
			fmt.Fprintf(rt, "unknown command: %s\n", cmdline)
		}
	}
}

// readLine echoes console input until a line terminator. It returns false if
// the line does not fit the command buffer.
func readLine(rt *Runtime) (string, bool) {
	var line []byte

	for {
		ch := rt.GetChar()
		rt.PutChar(ch)

		if ch == '\r' || ch == '\n' {
			if ch == '\r' {
				rt.PutChar('\n')
			}
			return string(line), true
		}

		if len(line) == cmdlineMax-1 {
			return "", false
		}
		line = append(line, ch)
	}
}

func readFile(rt *Runtime, args []string) {
	name := defaultFile
	if len(args) > 0 {
		name = args[0]
	}

	var buf [cmdlineMax]byte
	n := rt.ReadFile(name, buf[:])
	if n < 0 {
		fmt.Fprintf(rt, "readfile: cannot read %s\n", name)
		return
	}

	rt.Write(buf[:n])
}

func writeFile(rt *Runtime, args []string) {
	name, data := defaultFile, defaultWrite
	if len(args) > 0 {
		name = args[0]
	}
	if len(args) > 1 {
		data = strings.Join(args[1:], " ") + "\n"
	}

	if n := rt.WriteFile(name, []byte(data)); n < 0 {
		fmt.Fprintf(rt, "writefile: cannot write %s\n", name)
	}
}
