// Package codec serializes compiled programs to and from .kbc images.
//
// An image is a CBOR map holding a format tag, a version and the program.
// Encoding is canonical, so the same program always produces the same bytes.
package codec

import (
	"fmt"
	"os"

	"github.com/chazu/kestrel/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Format tags every image.
const Format = "kestrel-bytecode"

// Version is the image version this package writes and accepts.
const Version = 1

// Extension is the conventional file extension for images.
const Extension = ".kbc"

// ErrFormat is returned for data that is not a program image.
var ErrFormat = errors.New("codec: not a program image")

type image struct {
	Format  string      `cbor:"1,keyasint"`
	Version uint        `cbor:"2,keyasint"`
	Program *vm.Program `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 256,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal serializes a program image.
func Marshal(p *vm.Program) ([]byte, error) {
	if p == nil || p.Main == nil {
		return nil, errors.New("codec: program has no main function")
	}
	data, err := encMode.Marshal(&image{Format: Format, Version: Version, Program: p})
	if err != nil {
		return nil, errors.Wrap(err, "codec: marshal program")
	}
	return data, nil
}

// Unmarshal deserializes a program image. The result is not validated; pass
// it to vm.Load or vm.RunProgram for that.
func Unmarshal(data []byte) (*vm.Program, error) {
	var img image
	if err := decMode.Unmarshal(data, &img); err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	if img.Format != Format {
		return nil, errors.Wrapf(ErrFormat, "format %q", img.Format)
	}
	if img.Version != Version {
		return nil, errors.Errorf("codec: unsupported image version %d (want %d)", img.Version, Version)
	}
	if img.Program == nil || img.Program.Main == nil {
		return nil, errors.Wrap(ErrFormat, "image has no main function")
	}
	return img.Program, nil
}

// WriteFile writes a program image to path.
func WriteFile(path string, p *vm.Program) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "codec: write %s", path)
}

// ReadFile reads a program image from path. A program without a source name
// takes the path.
func ReadFile(path string) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "codec: read %s", path)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if p.Source == "" {
		p.Source = path
	}
	return p, nil
}
