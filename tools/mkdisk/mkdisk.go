package main

import (
	"archive/tar"
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"rvos/kernel/fs"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkdisk] error: %s\n", err.Error())
	os.Exit(1)
}

// buildImage returns a ustar archive holding files, padded to fs.DiskMaxSize.
// Archive members are named after the base name of each file.
func buildImage(files map[string][]byte, order []string) ([]byte, error) {
	if len(order) > fs.FilesMax {
		return nil, fmt.Errorf("the disk holds at most %d files; got %d", fs.FilesMax, len(order))
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, name := range order {
		data := files[name]
		switch {
		case len(name) >= fs.NameMax:
			return nil, fmt.Errorf("%s: name must be shorter than %d bytes", name, fs.NameMax)
		case len(data) > fs.FileDataMax:
			return nil, fmt.Errorf("%s: file size %d exceeds the maximum of %d bytes", name, len(data), fs.FileDataMax)
		}

		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0644,
			Size:     int64(len(data)),
			Format:   tar.FormatUSTAR,
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	// Flush pads the last member to a full block; the end-of-archive
	// marker is left out since it would not fit the disk.
	if err := tw.Flush(); err != nil {
		return nil, err
	}

	if buf.Len() > fs.DiskMaxSize {
		return nil, fmt.Errorf("archive needs %d bytes; the disk holds %d", buf.Len(), fs.DiskMaxSize)
	}

	image := make([]byte, fs.DiskMaxSize)
	copy(image, buf.Bytes())
	return image, nil
}

func main() {
	outFile := flag.String("out", "disk.tar", "output disk image")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: mkdisk [-out disk.tar] file...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var (
		files = make(map[string][]byte)
		order []string
	)

	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			exit(err)
		}

		name := filepath.Base(path)
		if _, dup := files[name]; dup {
			exit(fmt.Errorf("duplicate file name %s", name))
		}

		files[name] = data
		order = append(order, name)
		slog.Info("adding file", "name", name, "size", len(data))
	}

	image, err := buildImage(files, order)
	if err != nil {
		exit(err)
	}

	if err = os.WriteFile(*outFile, image, 0644); err != nil {
		exit(err)
	}

	slog.Info("wrote disk image", "path", *outFile, "files", len(order), "size", len(image))
}
